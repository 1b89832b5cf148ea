package model

import "errors"

// Error kinds surfaced by position operations. Callers match them with errors.Is;
// every layer wraps them with the details of the failing input.
var (
	ErrInvalidRange          = errors.New("invalid range")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrCallbackAuthorization = errors.New("callback authorization failure")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
)
