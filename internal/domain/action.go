// Package domain holds the engine's core types: policies, sessions, jobs,
// items, admission decisions and audit records, plus the state machines
// that govern job and item status.
package domain

import "fmt"

// ActionType is one platform operation the provider can perform.
type ActionType string

const (
	ActionExtract     ActionType = "extract"
	ActionProfileView ActionType = "profile_view"
	ActionConnect     ActionType = "connect"
	ActionMessage     ActionType = "message"
	ActionInMail      ActionType = "inmail"
)

var actionTypes = []ActionType{ActionExtract, ActionProfileView, ActionConnect, ActionMessage, ActionInMail}

// ActionTypes lists every known action.
func ActionTypes() []ActionType {
	return append([]ActionType(nil), actionTypes...)
}

func (a ActionType) Valid() bool {
	for _, t := range actionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// IsTouch reports whether the action reaches the target person and so
// counts toward maxTouchesPerPerson.
func (a ActionType) IsTouch() bool {
	return a == ActionConnect || a == ActionMessage || a == ActionInMail
}

func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return a, nil
}

// JobType groups items. Non-mixed jobs restrict which actions they carry.
type JobType string

const (
	JobTypeExtract JobType = "extract"
	JobTypeConnect JobType = "connect"
	JobTypeMessage JobType = "message"
	JobTypeMixed   JobType = "mixed"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeExtract, JobTypeConnect, JobTypeMessage, JobTypeMixed:
		return true
	}
	return false
}

// Allows reports whether an item of action a may belong to a job of type t.
func (t JobType) Allows(a ActionType) bool {
	switch t {
	case JobTypeExtract:
		return a == ActionExtract || a == ActionProfileView
	case JobTypeConnect:
		return a == ActionConnect
	case JobTypeMessage:
		return a == ActionMessage || a == ActionInMail
	case JobTypeMixed:
		return a.Valid()
	}
	return false
}

// DefaultAction is the action assumed for items enqueued without one.
func (t JobType) DefaultAction() ActionType {
	switch t {
	case JobTypeConnect:
		return ActionConnect
	case JobTypeMessage:
		return ActionMessage
	case JobTypeExtract:
		return ActionExtract
	}
	return ""
}
