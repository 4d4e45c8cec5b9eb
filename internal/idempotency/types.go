package idempotency

import (
	"strings"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Scopes keep checkout keys and worker job keys apart in one table.
const (
	ScopeCheckout = "checkout"
	ScopeJob      = "job"
)

// Record is the shape persisted in the idempotency DynamoDB table.
type Record struct {
	Key            string    `dynamodbav:"idempotency_key"` // PK
	Scope          string    `dynamodbav:"scope"`
	Status         string    `dynamodbav:"status"`
	Fingerprint    string    `dynamodbav:"fingerprint,omitempty"`
	ResourceID     string    `dynamodbav:"resource_id,omitempty"` // order group or job id
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	Attempts       int       `dynamodbav:"attempts"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Key builds the table key for a caller-supplied key inside scope, e.g.
// Key(ScopeCheckout, userID, headerKey).
func Key(scope string, parts ...string) string {
	return scope + "#" + strings.Join(parts, "#")
}

// Decision tells the caller what to do with a request.
type Decision int

const (
	// Proceed: this caller owns the key and must finish with MarkDone or MarkFailed.
	Proceed Decision = iota
	// Replay: the work already finished; return the stored response.
	Replay
	// InProgress: another caller holds the key.
	InProgress
	// Mismatch: the key was used for a different request.
	Mismatch
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Replay:
		return "replay"
	case InProgress:
		return "in_progress"
	case Mismatch:
		return "mismatch"
	}
	return "unknown"
}
