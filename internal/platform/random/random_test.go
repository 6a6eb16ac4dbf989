package random

import "testing"

func TestNewSeedIsNonNegative(t *testing.T) {
	for range 50 {
		seed, err := NewSeed()
		if err != nil {
			t.Fatalf("new seed: %v", err)
		}
		if seed < 0 {
			t.Fatalf("expected non-negative seed, got %d", seed)
		}
	}
}

func TestNewSeedVaries(t *testing.T) {
	first, err := NewSeed()
	if err != nil {
		t.Fatalf("new seed: %v", err)
	}
	for range 10 {
		next, err := NewSeed()
		if err != nil {
			t.Fatalf("new seed: %v", err)
		}
		if next != first {
			return
		}
	}
	t.Fatal("expected seeds to vary across draws")
}
