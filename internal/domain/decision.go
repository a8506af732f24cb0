package domain

import "time"

type DecisionKind string

const (
	DecisionAllow DecisionKind = "allow"
	DecisionDeny  DecisionKind = "deny"
	DecisionDelay DecisionKind = "delay"
)

// Reasons attached to deny and delay decisions.
const (
	ReasonOutsideHours       = "outside_active_hours"
	ReasonSessionUnavailable = "session_unavailable"
	ReasonCooldown           = "cooldown"
	ReasonDailyLimit         = "daily_limit"
	ReasonHourlyLimit        = "hourly_limit"
	ReasonMinuteLimit        = "minute_limit"
	ReasonTypeLimit          = "type_limit"
	ReasonTypeDisabled       = "action_disabled"
	ReasonContactLimit       = "contact_limit_reached"
	ReasonDoNotContact       = "do_not_contact"
	ReasonWarmupLimit        = "warmup_limit"
	ReasonPacing             = "pacing"
	ReasonConcurrency        = "concurrency"
	ReasonFailureLimit       = "failure_limit"
	ReasonCancelled          = "cancelled"
)

// Decision is the admission outcome. At is the next pacing slot for allow
// and the retry instant for delay; it is zero for deny.
type Decision struct {
	Kind   DecisionKind `json:"decision"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at,omitzero"`
}

func Allow(next time.Time) Decision {
	return Decision{Kind: DecisionAllow, At: next}
}

func Deny(reason string) Decision {
	return Decision{Kind: DecisionDeny, Reason: reason}
}

func Delay(at time.Time, reason string) Decision {
	return Decision{Kind: DecisionDelay, Reason: reason, At: at}
}
