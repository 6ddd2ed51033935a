package types

import (
	"errors"
	"fmt"
	"strings"
)

// SpentNullifierCode is the program's custom error number for a nullifier
// that was already used (logged as NullifierAlreadyUsed).
const SpentNullifierCode = 6001

var (
	// ErrCommitmentMismatch means the stored commitment no longer matches
	// H(nullifier, secret). The note cannot be repaired.
	ErrCommitmentMismatch = errors.New("commitment mismatch: note is unusable")

	ErrAllEndpointsUnavailable = errors.New("all rpc endpoints are cooling down")
	ErrRateLimited             = errors.New("rate limited")

	// ErrDuplicateNullifier is reported when the nullifier was already spent on chain.
	// Orchestrators treat it as a successful withdrawal.
	ErrDuplicateNullifier = errors.New("nullifier already spent")

	ErrTransactionFailed = errors.New("transaction failed on chain")

	// ErrStaleRoot is informational: the root is in neither acceptance tier.
	ErrStaleRoot = errors.New("root is no longer accepted")

	ErrNoteNotFound = errors.New("note not found")
)

var spentCodeHex = fmt.Sprintf("custom program error: %#x", SpentNullifierCode)

// IsSpentMessage recognises the program's "nullifier already used" failure
// in relayer and node error text, by name or by custom error code.
func IsSpentMessage(msg string) bool {
	msg = strings.ToLower(msg)
	if strings.Contains(msg, "already spent") ||
		strings.Contains(msg, "nullifier already used") ||
		strings.Contains(msg, "nullifieralreadyused") {
		return true
	}
	for rest := msg; ; {
		i := strings.Index(rest, spentCodeHex)
		if i < 0 {
			return false
		}
		rest = rest[i+len(spentCodeHex):]
		if rest == "" || !isHexDigit(rest[0]) {
			return true
		}
	}
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}
