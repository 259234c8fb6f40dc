package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeExpiry_WellFormed(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	token := mintToken(t, "alice", exp)

	first, err := DecodeExpiry(token)
	if err != nil {
		t.Fatalf("DecodeExpiry failed: %v", err)
	}
	if !first.Equal(exp) {
		t.Errorf("Expected %v, got %v", exp, first)
	}

	// Repeated decoding is deterministic
	for i := 0; i < 3; i++ {
		again, err := DecodeExpiry(token)
		if err != nil {
			t.Fatalf("DecodeExpiry call %d failed: %v", i, err)
		}
		if !again.Equal(first) {
			t.Errorf("Expected consistent instant %v, got %v", first, again)
		}
	}
}

func TestDecodeExpiry_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"single segment", "abc"},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"payload not base64", "aGVhZA.!!!.c2ln"},
		{"payload not json", rawToken("not json")},
		{"payload json array", rawToken(`[1,2,3]`)},
		{"payload null", rawToken(`null`)},
		{"missing exp", rawToken(`{"sub":"alice"}`)},
		{"string exp", rawToken(`{"exp":"tomorrow"}`)},
		{"bool exp", rawToken(`{"exp":true}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeExpiry(tt.token)
			if !errors.Is(err, ErrMalformedToken) {
				t.Errorf("Expected ErrMalformedToken, got %v", err)
			}
		})
	}
}

func TestDecodeExpiry_IgnoresHeaderAndSignature(t *testing.T) {
	payload := strings.Split(rawToken(`{"exp":1900000000}`), ".")[1]
	token := "x." + payload + ".y"

	exp, err := DecodeExpiry(token)
	if err != nil {
		t.Fatalf("DecodeExpiry failed: %v", err)
	}
	if exp.Unix() != 1_900_000_000 {
		t.Errorf("Expected exp 1900000000, got %d", exp.Unix())
	}
}
