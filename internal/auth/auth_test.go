package auth

import (
	"errors"
	"testing"
)

func TestStaticToken(t *testing.T) {
	v := StaticToken{Token: "s3cret"}
	if err := v.Validate("s3cret"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := v.Validate("nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := (StaticToken{}).Validate(""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty static token must reject")
	}
}

func TestFromToken(t *testing.T) {
	if FromToken("  ") != nil {
		t.Fatalf("blank token should disable validation")
	}
	v := FromToken(" abc ")
	if v == nil || v.Validate("abc") != nil {
		t.Fatalf("expected trimmed token validator")
	}
}
