package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// PauseReason records who paused a job, so only system pauses are lifted
// automatically.
type PauseReason string

const (
	PauseNone               PauseReason = ""
	PauseUser               PauseReason = "user"
	PauseSessionUnavailable PauseReason = "session_unavailable"
	PauseCooldown           PauseReason = "cooldown"
)

type Job struct {
	ID           string      `db:"id"            json:"id"`
	AccountID    string      `db:"account_id"    json:"accountId"`
	JobType      JobType     `db:"job_type"      json:"jobType"`
	Status       JobStatus   `db:"status"        json:"status"`
	PausedReason PauseReason `db:"paused_reason" json:"pausedReason,omitempty"`
	ErrorMessage string      `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at"    json:"updatedAt"`
	StartedAt    *time.Time  `db:"started_at"    json:"startedAt,omitempty"`
	FinishedAt   *time.Time  `db:"finished_at"   json:"finishedAt,omitempty"`
}

// JobSummary counts a job's items per status.
type JobSummary struct {
	Total  int                `json:"total"`
	Counts map[ItemStatus]int `json:"counts"`
}

func (s JobSummary) Terminal() int {
	n := 0
	for st, c := range s.Counts {
		if st.Terminal() {
			n += c
		}
	}
	return n
}

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemAllowed   ItemStatus = "allowed"
	ItemThrottled ItemStatus = "throttled"
	ItemExecuting ItemStatus = "executing"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

type JobItem struct {
	ID             string     `db:"id"               json:"id"`
	JobID          string     `db:"job_id"           json:"jobId"`
	AccountID      string     `db:"account_id"       json:"accountId"`
	Seq            int64      `db:"seq"              json:"seq"`
	TargetRef      string     `db:"target_ref"       json:"targetRef"`
	ActionType     ActionType `db:"action_type"      json:"actionType"`
	Status         ItemStatus `db:"status"           json:"status"`
	Payload        RawJSON    `db:"payload"          json:"payload,omitempty"`
	ResultPayload  RawJSON    `db:"result_payload"   json:"resultPayload,omitempty"`
	ErrorMessage   string     `db:"error_message"    json:"errorMessage,omitempty"`
	SkipReason     string     `db:"skip_reason"      json:"skipReason,omitempty"`
	Attempts       int        `db:"attempts"         json:"attempts"`
	NextEligibleAt time.Time  `db:"next_eligible_at" json:"nextEligibleAt"`
	CreatedAt      time.Time  `db:"created_at"       json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updatedAt"`
}

// RawJSON is an opaque JSON value stored as jsonb. nil encodes as null.
type RawJSON []byte

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], b...)
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	if !json.Valid(r) {
		return nil, errors.New("invalid json")
	}
	return []byte(r), nil
}

func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append(RawJSON(nil), v...)
	case string:
		*r = RawJSON(v)
	default:
		return errors.New("raw json: unsupported scan type")
	}
	return nil
}
