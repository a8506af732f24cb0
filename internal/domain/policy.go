package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSourceKey names the platform whose limits apply when a request
// does not pick one.
const DefaultSourceKey = "linkedin"

// Policy is the per-account configuration document.
type Policy struct {
	AccountID    string                  `json:"accountId"`
	Version      int64                   `json:"version"`
	WorkingHours WorkingHours            `json:"workingHours"`
	Warmup       Warmup                  `json:"warmup"`
	Sources      map[string]SourceLimits `json:"sources"`
	Guardrails   Guardrails              `json:"guardrails"`
	Sender       Sender                  `json:"sender"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// WorkingHours is the active window in the account's timezone.
// Days use ISO numbering, 1 = Monday through 7 = Sunday.
type WorkingHours struct {
	Timezone      string `json:"timezone"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Days          []int  `json:"days"`
	AllowWeekends bool   `json:"allowWeekends"`
}

type Warmup struct {
	Enabled     bool    `json:"enabled"`
	TotalWeeks  int     `json:"totalWeeks"`
	CurrentWeek int     `json:"currentWeek"`
	SpeedFactor float64 `json:"speedFactor"`
}

// SourceLimits are per-platform daily caps. A cap of 0 disables that action
// type; ActionsPerMinute 0 means no per-minute cap.
type SourceLimits struct {
	ProfileViewsPerDay      int `json:"profileViewsPerDay"`
	ConnectionInvitesPerDay int `json:"connectionInvitesPerDay"`
	MessagesPerDay          int `json:"messagesPerDay"`
	InMailsPerDay           int `json:"inMailsPerDay"`
	Concurrency             int `json:"concurrency"`
	ActionsPerMinute        int `json:"actionsPerMinute"`
}

// CapFor returns the daily cap that governs a.
func (l SourceLimits) CapFor(a ActionType) int {
	switch a {
	case ActionExtract, ActionProfileView:
		return l.ProfileViewsPerDay
	case ActionConnect:
		return l.ConnectionInvitesPerDay
	case ActionMessage:
		return l.MessagesPerDay
	case ActionInMail:
		return l.InMailsPerDay
	}
	return 0
}

type Guardrails struct {
	MaxActionsPerDay    int      `json:"maxActionsPerDay"`
	MaxActionsPerHour   int      `json:"maxActionsPerHour"`
	MinDelaySeconds     int      `json:"minDelaySeconds"`
	MaxDelaySeconds     int      `json:"maxDelaySeconds"`
	SafetyModeEnabled   bool     `json:"safetyModeEnabled"`
	MaxTouchesPerPerson int      `json:"maxTouchesPerPerson"`
	DoNotContactDomains []string `json:"doNotContactDomains"`
	CooldownMinutes     int      `json:"cooldownMinutes"`
	// MaxFailuresPerDay stops the account for the rest of the day once that
	// many actions have failed. 0 disables the check.
	MaxFailuresPerDay   int      `json:"maxFailuresPerDay"`
}

// Sender pins which session provider executes actions. Empty means any.
type Sender struct {
	Provider SessionProvider `json:"provider"`
	Name     string          `json:"name"`
}

// Limits returns the limits for sourceKey, falling back to the default
// source when the key is empty or unknown.
func (p *Policy) Limits(sourceKey string) SourceLimits {
	if l, ok := p.Sources[sourceKey]; ok {
		return l
	}
	return p.Sources[DefaultSourceKey]
}

// Location loads the policy timezone.
func (p *Policy) Location() (*time.Location, error) {
	return time.LoadLocation(p.WorkingHours.Timezone)
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c := *p
	c.WorkingHours.Days = append([]int(nil), p.WorkingHours.Days...)
	c.Guardrails.DoNotContactDomains = append([]string(nil), p.Guardrails.DoNotContactDomains...)
	c.Sources = make(map[string]SourceLimits, len(p.Sources))
	for k, v := range p.Sources {
		c.Sources[k] = v
	}
	return &c
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !digits(s[0:2]) || !digits(s[3:5]) {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

func digits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MatchesDomain reports whether targetRef (an email, URL or bare host)
// belongs to one of domains, including subdomains.
func MatchesDomain(targetRef string, domains []string) bool {
	host := strings.ToLower(strings.TrimSpace(targetRef))
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#:"); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
