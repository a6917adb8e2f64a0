package tracker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestError_Format(t *testing.T) {
	id := uuid.MustParse("6f1c1e4c-2f7c-4c55-9a57-3a1b3c9d2e10")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  &Error{Kind: KindPermissionDenied},
			want: "permission_denied",
		},
		{
			name: "build and checkpoint",
			err:  newError(KindInvalidCheckpoint, id, "out of range").at(120),
			want: "invalid_checkpoint (build 6f1c1e4c-2f7c-4c55-9a57-3a1b3c9d2e10, checkpoint 120): out of range",
		},
		{
			name: "wrapped",
			err:  storeError(uuid.Nil, "load build", errors.New("timeout")),
			want: "internal: load build: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", newError(KindUnknownBuild, uuid.Nil, "gone"))
	if KindOf(wrapped) != KindUnknownBuild {
		t.Errorf("KindOf should see through wrapping")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("foreign errors should be internal")
	}
	if !IsKind(wrapped, KindUnknownBuild) || IsKind(wrapped, KindNotFound) {
		t.Errorf("IsKind mismatch")
	}
}

func TestChecksumMismatch(t *testing.T) {
	err := ChecksumMismatch(uuid.New(), 30, "sha256:aa", "sha256:bb")
	if err.Kind != KindChecksumMismatch || err.Checkpoint == nil || *err.Checkpoint != 30 {
		t.Errorf("unexpected error: %+v", err)
	}
	if !strings.Contains(err.Error(), "sha256:bb") {
		t.Errorf("message should carry the computed checksum: %v", err)
	}
}

func TestNormalizeChecksum(t *testing.T) {
	hex64 := strings.Repeat("a1", 32)

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"sha256:" + hex64, "sha256:" + hex64, true},
		{"SHA256:" + strings.ToUpper(hex64), "sha256:" + hex64, true},
		{hex64, "sha256:" + hex64, true},
		{"md5:" + strings.Repeat("0", 32), "md5:" + strings.Repeat("0", 32), true},
		{"sha1:" + strings.Repeat("f", 40), "sha1:" + strings.Repeat("f", 40), true},
		{"sha512:" + strings.Repeat("e", 128), "sha512:" + strings.Repeat("e", 128), true},
		{"sha384:00", "sha384:00", true},
		{"crc32c:1A2B3C4D", "crc32c:1a2b3c4d", true},
		{"BLAKE3:ab12", "blake3:ab12", true},
		{"sha256:abc", "sha256:abc", true},
		{"", "", false},
		{"sha256:", "", false},
		{":abc", "", false},
		{"nocolon-not-hex", "", false},
		{strings.Repeat("zz", 32), "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeChecksum(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("NormalizeChecksum(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
