package model

import (
	"encoding/json"
)

// Operation kinds written to the operation journal.
const (
	OperationAddLP    = "add_lp"
	OperationRemoveLP = "remove_lp"
)

// OperationRecord is the normalized representation of a position operation
// for storage. Amounts are decimal strings; rejected operations carry Error
// and no amounts.
type OperationRecord struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id,omitempty"`
	Kind        string `json:"kind"`
	Owner       string `json:"owner"`
	Pool        string `json:"pool"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	Liquidity   string `json:"liquidity"`
	Amount0     string `json:"amount0"`
	Amount1     string `json:"amount1"`
	NativeCase  string `json:"native_case,omitempty"`
	NativeUsed  string `json:"native_used,omitempty"`
	Closed      bool   `json:"closed,omitempty"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at"`
}

// MarshalJSON ensures OperationRecord is encoded with stable field names.
func (r OperationRecord) MarshalJSON() ([]byte, error) {
	type Alias OperationRecord
	return json.Marshal(Alias(r))
}

// UnmarshalJSON decodes an OperationRecord from JSON.
func (r *OperationRecord) UnmarshalJSON(data []byte) error {
	type Alias OperationRecord
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = OperationRecord(a)
	return nil
}

// PositionRecord is the storage form of a tracked position.
type PositionRecord struct {
	Owner       string `json:"owner"`
	Pool        string `json:"pool"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	Liquidity   string `json:"liquidity"`
	TokensOwed0 string `json:"tokens_owed0"`
	TokensOwed1 string `json:"tokens_owed1"`
	Closed      bool   `json:"closed"`
}
