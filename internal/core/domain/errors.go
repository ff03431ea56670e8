package domain

import "errors"

var (
	ErrInvalidSample       = errors.New("invalid metrics sample")
	ErrEnforcerUnavailable = errors.New("policy enforcer unavailable")
	ErrPolicyRejected      = errors.New("policy rejected by enforcer")
	ErrInvalidPolicy       = errors.New("invalid policy document")
	ErrStatsUnavailable    = errors.New("stats source unavailable")
)
