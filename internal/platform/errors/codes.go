package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge errors
	CodeInvalidTier Code = "INVALID_TIER"

	// Deliberation errors
	CodeTurnValidationExhausted     Code = "TURN_VALIDATION_EXHAUSTED"
	CodeUnanimityRequired           Code = "UNANIMITY_REQUIRED"
	CodeFinalArtifactSchemaFailure  Code = "FINAL_ARTIFACT_SCHEMA_FAILURE"
	CodeEventContractFailure        Code = "EVENT_CONTRACT_FAILURE"
	CodeProviderUnavailable         Code = "PROVIDER_UNAVAILABLE"
	CodeProviderInvalidConfig       Code = "PROVIDER_INVALID_CONFIG"
	CodeProviderMalformedTurnOutput Code = "PROVIDER_MALFORMED_TURN_OUTPUT"

	// Match lifecycle errors
	CodeMatchAlreadyRunning Code = "MATCH_ALREADY_RUNNING"
	CodeMatchNotComplete    Code = "MATCH_NOT_COMPLETE"

	// Judging errors
	CodeJudgingInvalidScore Code = "JUDGING_INVALID_SCORE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes for the API surface.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeInvalidTier,
		CodeProviderInvalidConfig,
		CodeJudgingInvalidScore:
		return http.StatusBadRequest

	// Conflict - state doesn't allow the operation
	case CodeMatchAlreadyRunning,
		CodeMatchNotComplete:
		return http.StatusConflict

	// Not found
	case CodeNotFound:
		return http.StatusNotFound

	// Upstream generator faults surface as bad gateway
	case CodeProviderUnavailable,
		CodeProviderMalformedTurnOutput:
		return http.StatusBadGateway

	// Engine-fatal conditions are internal from the API's point of view;
	// clients observe them through the match_failed event, not a request.
	case CodeTurnValidationExhausted,
		CodeUnanimityRequired,
		CodeFinalArtifactSchemaFailure,
		CodeEventContractFailure:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
