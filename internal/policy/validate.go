package policy

import (
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const (
	maxActionsPerDayLimit  = 5000
	maxActionsPerHourLimit = 500
	maxDelayLimit          = 1800
)

// Validate checks every policy invariant and reports each failing field.
func Validate(p *domain.Policy) error {
	v := &domain.ValidationError{}
	if p == nil {
		v.Add("policy", "is required")
		return v
	}

	validateHours(v, &p.WorkingHours)
	validateWarmup(v, &p.Warmup)
	validateSources(v, p.Sources)
	validateGuardrails(v, &p.Guardrails)

	if p.Sender.Provider != "" && !p.Sender.Provider.Valid() {
		v.Add("sender.provider", "must be embedded-auth or cookie-import")
	}
	return v.Err()
}

func validateHours(v *domain.ValidationError, h *domain.WorkingHours) {
	if h.Timezone == "" {
		v.Add("workingHours.timezone", "is required")
	} else if _, err := time.LoadLocation(h.Timezone); err != nil {
		v.Add("workingHours.timezone", "unknown timezone")
	}

	start, startErr := domain.ParseClock(h.Start)
	if startErr != nil {
		v.Add("workingHours.start", startErr.Error())
	}
	end, endErr := domain.ParseClock(h.End)
	if endErr != nil {
		v.Add("workingHours.end", endErr.Error())
	}
	if startErr == nil && endErr == nil && start == end {
		v.Add("workingHours.end", "must differ from start")
	}

	for i, d := range h.Days {
		if d < 1 || d > 7 {
			v.Add(fmt.Sprintf("workingHours.days[%d]", i), "must be between 1 and 7")
		}
	}
	if len(h.Days) == 0 && !h.AllowWeekends {
		v.Add("workingHours.days", "at least one day is required")
	}
}

func validateWarmup(v *domain.ValidationError, w *domain.Warmup) {
	if w.TotalWeeks < 0 {
		v.Add("warmup.totalWeeks", "must be >= 0")
	}
	if w.CurrentWeek < 0 {
		v.Add("warmup.currentWeek", "must be >= 0")
	}
	if w.CurrentWeek > w.TotalWeeks {
		v.Add("warmup.currentWeek", "must be <= totalWeeks")
	}
	if !w.Enabled {
		return
	}
	if w.TotalWeeks < 1 {
		v.Add("warmup.totalWeeks", "must be >= 1 when warm-up is enabled")
	}
	if w.SpeedFactor <= 0 || w.SpeedFactor > 1 {
		v.Add("warmup.speedFactor", "must be in (0, 1]")
	}
}

func validateSources(v *domain.ValidationError, sources map[string]domain.SourceLimits) {
	if len(sources) == 0 {
		v.Add("sources", "at least one source is required")
		return
	}
	if _, ok := sources[domain.DefaultSourceKey]; !ok {
		v.Add("sources."+domain.DefaultSourceKey, "is required; it applies to unknown sources")
	}
	for key, l := range sources {
		prefix := "sources." + key + "."
		nonNegative(v, prefix+"profileViewsPerDay", l.ProfileViewsPerDay)
		nonNegative(v, prefix+"connectionInvitesPerDay", l.ConnectionInvitesPerDay)
		nonNegative(v, prefix+"messagesPerDay", l.MessagesPerDay)
		nonNegative(v, prefix+"inMailsPerDay", l.InMailsPerDay)
		nonNegative(v, prefix+"actionsPerMinute", l.ActionsPerMinute)
		if l.Concurrency < 1 {
			v.Add(prefix+"concurrency", "must be >= 1")
		}
	}
}

func validateGuardrails(v *domain.ValidationError, g *domain.Guardrails) {
	inRange(v, "guardrails.maxActionsPerDay", g.MaxActionsPerDay, 1, maxActionsPerDayLimit)
	inRange(v, "guardrails.maxActionsPerHour", g.MaxActionsPerHour, 1, maxActionsPerHourLimit)
	if g.MaxActionsPerHour > g.MaxActionsPerDay {
		v.Add("guardrails.maxActionsPerHour", "must be <= maxActionsPerDay")
	}
	inRange(v, "guardrails.minDelaySeconds", g.MinDelaySeconds, 0, maxDelayLimit)
	inRange(v, "guardrails.maxDelaySeconds", g.MaxDelaySeconds, 0, maxDelayLimit)
	if g.MinDelaySeconds > g.MaxDelaySeconds {
		v.Add("guardrails.minDelaySeconds", "must be <= maxDelaySeconds")
	}
	nonNegative(v, "guardrails.maxTouchesPerPerson", g.MaxTouchesPerPerson)
	nonNegative(v, "guardrails.cooldownMinutes", g.CooldownMinutes)
	nonNegative(v, "guardrails.maxFailuresPerDay", g.MaxFailuresPerDay)
}

func nonNegative(v *domain.ValidationError, field string, n int) {
	if n < 0 {
		v.Add(field, "must be >= 0")
	}
}

func inRange(v *domain.ValidationError, field string, n, lo, hi int) {
	if n < lo || n > hi {
		v.Add(field, fmt.Sprintf("must be between %d and %d", lo, hi))
	}
}
