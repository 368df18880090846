package engine

import "errors"

// Rejection outcomes. Admission and risk rejections are normal control
// flow: logged, surfaced as a structured skip reason, never retried.
var (
	ErrAdmissionDenied      = errors.New("admission denied")
	ErrRiskLimitExceeded    = errors.New("risk limit exceeded")
	ErrPlacementFailed      = errors.New("placement failed")
	ErrModificationRejected = errors.New("modification rejected")
	ErrProfileRejected      = errors.New("profile rejected")
	ErrChainCapReached      = errors.New("chain cap reached")
	ErrUnknownTrade         = errors.New("unknown trade")
	ErrEngineStopped        = errors.New("engine stopped")
)
