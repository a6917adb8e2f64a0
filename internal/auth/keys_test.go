package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		same  string
	}{
		{name: "whitespace trimmed", input: "  bs_worker  ", same: "bs_worker"},
		{name: "newline trimmed", input: "bs_worker\n", same: "bs_worker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, want := HashKey(tt.input), HashKey(tt.same); got != want {
				t.Errorf("HashKey(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}

	if got := HashKey(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashKey(\"\") = %v", got)
	}
	if len(HashKey("bs_worker")) != 64 {
		t.Error("expected a 64 char hex digest")
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	if HashKey("key1") == HashKey("key2") {
		t.Error("Different keys produced same hash")
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	k2, _ := GenerateKey()

	if !strings.HasPrefix(k1, KeyPrefix) || len(k1) != len(KeyPrefix)+64 {
		t.Errorf("unexpected key format %q", k1)
	}
	if k1 == k2 {
		t.Error("GenerateKey returned the same key twice")
	}
}
