package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Document is a canon snapshot as a JSON byte slice. Documents are
// immutable: Apply returns a fresh snapshot and never writes through the
// receiver, so before and after fingerprints can both be computed.
type Document []byte

// NewDocument serializes a Canon into a Document snapshot.
func NewDocument(c Canon) (Document, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal canon: %w", err)
	}
	return Document(raw), nil
}

// Apply runs an ordered list of patch operations against the document and
// returns the patched snapshot. The receiver is left untouched; an error
// leaves no partial result (the patch is atomic).
func Apply(doc Document, ops []turn.PatchOp) (Document, error) {
	if len(ops) == 0 {
		return doc, nil
	}

	encoded, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}

	patched, err := patch.Apply(bytes.Clone(doc))
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return Document(patched), nil
}

// Hash returns the document's canonical SHA-256 fingerprint.
func (d Document) Hash() (string, error) {
	var value any
	if err := json.Unmarshal(d, &value); err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	return HashValue(value)
}

// CanonicalJSON encodes a value with object keys sorted and no incidental
// whitespace, suitable for fingerprinting and equality checks.
func CanonicalJSON(value any) ([]byte, error) {
	// encoding/json sorts map keys; round-tripping through any strips
	// struct field order so equivalent documents encode identically.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical value: %w", err)
	}
	return canonical, nil
}

// HashValue returns the canonical SHA-256 fingerprint of any JSON value.
func HashValue(value any) (string, error) {
	canonical, err := CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// PatchKey returns the canonical serialization of a patch, used to detect
// identical amendment patches across votes.
func PatchKey(ops []turn.PatchOp) (string, error) {
	canonical, err := CanonicalJSON(ops)
	if err != nil {
		return "", fmt.Errorf("canonicalize patch: %w", err)
	}
	return string(canonical), nil
}
