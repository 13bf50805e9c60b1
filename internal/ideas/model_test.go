package ideas

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeTextBounds(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "trims surrounding whitespace", input: "   hola mundo  ", want: "hola mundo"},
		{name: "rejects short text", input: " abcd ", wantErr: true},
		{name: "accepts five characters", input: "ñandú", want: "ñandú"},
		{name: "accepts max length", input: strings.Repeat("a", MaxTextLength), want: strings.Repeat("a", MaxTextLength)},
		{name: "rejects over max length", input: strings.Repeat("a", MaxTextLength+1), wantErr: true},
		{name: "rejects blank", input: "      ", wantErr: true},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := NormalizeText(testCase.input)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidText) {
					t.Fatalf("expected ErrInvalidText, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("expected %q, got %q", testCase.want, got)
			}
		})
	}
}

func TestNormalizeTextCountsComposedCharacters(t *testing.T) {
	decomposed := "n\u0303andu\u0301"
	got, err := NormalizeText(decomposed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "\u00f1and\u00fa" {
		t.Fatalf("expected NFC form, got %q", got)
	}
}

func TestLocalIDHelpers(t *testing.T) {
	id := LocalID(3)
	if id != "local-3" {
		t.Fatalf("unexpected local id %q", id)
	}
	if !IsLocalID(id) {
		t.Fatalf("expected local id to be recognized")
	}
	if IsLocalID("0190c2d4-7c1e-7a3b-9c55-3f1f4a1b2c3d") {
		t.Fatalf("expected remote id not to be local")
	}
	if !(Idea{ID: id}).IsLocal() {
		t.Fatalf("expected idea with local id to report local")
	}
}

func TestNextCreatedAtIsStrictlyIncreasing(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	if got := NextCreatedAt(time.Time{}, now); !got.Equal(now) {
		t.Fatalf("expected now without history, got %v", got)
	}
	if got := NextCreatedAt(now.Add(-time.Second), now); !got.Equal(now) {
		t.Fatalf("expected now when history is older, got %v", got)
	}
	if got := NextCreatedAt(now, now); !got.Equal(now.Add(time.Millisecond)) {
		t.Fatalf("expected one millisecond after latest, got %v", got)
	}
	future := now.Add(time.Hour)
	if got := NextCreatedAt(future, now); !got.After(future) {
		t.Fatalf("expected result after skewed latest, got %v", got)
	}
}
