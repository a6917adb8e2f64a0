package tracker

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"buildstate/internal/store"

	"github.com/google/uuid"
)

const (
	MaxMessageLength        = 500
	MaxFailureMessageLength = 1000
	MaxMetadataBytes        = 64 << 10
	MaskedValue             = "******"
)

var variableKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// VariableTypes are the accepted variable type tags.
var VariableTypes = map[string]bool{
	"string":     true,
	"int":        true,
	"bool":       true,
	"json":       true,
	"secret_ref": true,
}

func checkCheckpoint(buildID uuid.UUID, checkpoint int) error {
	if checkpoint < store.MinCheckpoint || checkpoint > store.MaxCheckpoint {
		return newError(KindInvalidCheckpoint, buildID, "checkpoint must be within [%d,%d]",
			store.MinCheckpoint, store.MaxCheckpoint).at(checkpoint)
	}
	return nil
}

func checkText(buildID uuid.UUID, field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return newError(KindInvalidArgument, buildID, "%s exceeds %d characters", field, max)
	}
	return nil
}

// checkMetadata validates that m encodes to a JSON object within MaxMetadataBytes.
func checkMetadata(buildID uuid.UUID, m store.Metadata) error {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return &Error{Kind: KindInvalidArgument, BuildID: buildID, Message: "metadata is not valid JSON", Err: err}
	}
	if len(raw) > MaxMetadataBytes {
		return newError(KindInvalidArgument, buildID, "metadata exceeds %d bytes", MaxMetadataBytes)
	}
	return nil
}

// NormalizeChecksum checks the "<algorithm>:<value>" shape and lowercases
// the algorithm, and the value when it is hex. A bare 64 character hex digest
// is taken as sha256. Whether the algorithm is supported is left to whoever
// verifies the content.
func NormalizeChecksum(sum string) (string, bool) {
	sum = strings.TrimSpace(sum)
	algo, digest, ok := strings.Cut(sum, ":")
	if !ok {
		if len(sum) != 64 || !isHex(sum) {
			return "", false
		}
		algo, digest = "sha256", sum
	}

	algo = strings.ToLower(strings.TrimSpace(algo))
	digest = strings.TrimSpace(digest)
	if algo == "" || digest == "" || strings.ContainsAny(algo, " \t") {
		return "", false
	}
	if isHex(digest) {
		digest = strings.ToLower(digest)
	}
	return algo + ":" + digest, true
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func mask(v store.Variable) store.Variable {
	if v.Sensitive && v.Value != "" {
		v.Value = MaskedValue
	}
	return v
}
