package leaderboard

import "errors"

// Submission faults. All are client-caused and never retried server-side;
// each one maps to a specific rejection message at the API boundary.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidScoreData = errors.New("invalid score data")
	ErrScoreMismatch    = errors.New("score calculation mismatch")
	ErrMessageMismatch  = errors.New("message does not match score data")
	ErrInvalidSignature = errors.New("invalid signature")
)
