package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/kysee/zkpool/zk-pool/types"
)

// CustomError extracts the program error number from a transaction error
// of the form {"InstructionError":[idx,{"Custom":n}]}.
func CustomError(raw json.RawMessage) (uint32, bool) {
	var v struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || len(v.InstructionError) != 2 {
		return 0, false
	}
	var c struct {
		Custom *uint32 `json:"Custom"`
	}
	if err := json.Unmarshal(v.InstructionError[1], &c); err != nil || c.Custom == nil {
		return 0, false
	}
	return *c.Custom, true
}

// FailureError describes a transaction that failed on chain. A failure
// caused by a reused nullifier also matches types.ErrDuplicateNullifier.
func FailureError(sig string, raw json.RawMessage) error {
	if code, ok := CustomError(raw); ok && code == types.SpentNullifierCode {
		return fmt.Errorf("%s: %w: %w", sig, types.ErrTransactionFailed, types.ErrDuplicateNullifier)
	}
	return fmt.Errorf("%s: %w: %s", sig, types.ErrTransactionFailed, raw)
}

// IsSpentNullifier reports whether a sendTransaction rejection was caused by
// a reused nullifier. Nodes put the program error code in the message and
// the error name in the simulation logs carried as error data.
func IsSpentNullifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrDuplicateNullifier) || types.IsSpentMessage(err.Error()) {
		return true
	}
	var de gethrpc.DataError
	if !errors.As(err, &de) || de.ErrorData() == nil {
		return false
	}
	bz, jerr := json.Marshal(de.ErrorData())
	return jerr == nil && types.IsSpentMessage(string(bz))
}
