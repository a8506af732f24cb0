package domain

import "time"

type AuditKind string

const (
	AuditDecision   AuditKind = "decision"
	AuditTransition AuditKind = "transition"
)

// AuditRecord is one immutable activity-log entry. Seq is assigned by the
// store and orders records.
type AuditRecord struct {
	Seq        int64      `db:"seq"         json:"seq"`
	Timestamp  time.Time  `db:"ts"          json:"timestamp"`
	AccountID  string     `db:"account_id"  json:"accountId"`
	ActionType ActionType `db:"action_type" json:"actionType,omitempty"`
	Kind       AuditKind  `db:"kind"        json:"kind"`
	Outcome    string     `db:"outcome"     json:"decisionOrTransition"`
	Reason     string     `db:"reason"      json:"reason,omitempty"`
	JobID      string     `db:"job_id"      json:"jobId,omitempty"`
	ItemID     string     `db:"item_id"     json:"itemId,omitempty"`
}
