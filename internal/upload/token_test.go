package upload

import (
	"testing"
	"time"
)

func TestToken_EncodesComponents(t *testing.T) {
	ts := time.Date(2026, time.December, 31, 23, 59, 58, 0, time.UTC)
	if got := Token(ts); got != "aCVNxw" {
		t.Errorf("expected aCVNxw, got %q", got)
	}
}

func TestToken_SameSecondSameToken(t *testing.T) {
	a := time.Date(2024, time.June, 28, 9, 0, 5, 100, time.UTC)
	b := time.Date(2024, time.June, 28, 9, 0, 5, 900_000_000, time.UTC)
	if Token(a) != Token(b) {
		t.Errorf("expected identical tokens, got %q and %q", Token(a), Token(b))
	}
}

func TestToken_NextSecondChangesLastCharOnly(t *testing.T) {
	a := time.Date(2024, time.June, 28, 9, 0, 5, 0, time.UTC)
	b := a.Add(time.Second)

	ta, tb := Token(a), Token(b)
	if len(ta) != 6 || len(tb) != 6 {
		t.Fatalf("expected 6-char tokens, got %q and %q", ta, tb)
	}
	if ta[:5] != tb[:5] {
		t.Errorf("expected shared prefix, got %q and %q", ta, tb)
	}
	if ta[5] == tb[5] {
		t.Errorf("expected last character to change, got %q and %q", ta, tb)
	}
}

func TestToken_OutOfRangeComponent(t *testing.T) {
	ts := time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := Token(ts); got != "-11000" {
		t.Errorf("expected -11000, got %q", got)
	}
}
