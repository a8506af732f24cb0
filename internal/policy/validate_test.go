package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *domain.Policy)
		field  string
	}{
		{"per day too high", func(p *domain.Policy) { p.Guardrails.MaxActionsPerDay = 5001 }, "guardrails.maxActionsPerDay"},
		{"per day zero", func(p *domain.Policy) { p.Guardrails.MaxActionsPerDay = 0 }, "guardrails.maxActionsPerDay"},
		{"hour above day", func(p *domain.Policy) {
			p.Guardrails.MaxActionsPerDay = 10
			p.Guardrails.MaxActionsPerHour = 11
		}, "guardrails.maxActionsPerHour"},
		{"delay too long", func(p *domain.Policy) { p.Guardrails.MaxDelaySeconds = 1801 }, "guardrails.maxDelaySeconds"},
		{"min above max", func(p *domain.Policy) { p.Guardrails.MinDelaySeconds = 130 }, "guardrails.minDelaySeconds"},
		{"bad clock", func(p *domain.Policy) { p.WorkingHours.Start = "9:00" }, "workingHours.start"},
		{"signed clock", func(p *domain.Policy) { p.WorkingHours.Start = "+9:00" }, "workingHours.start"},
		{"padded clock", func(p *domain.Policy) { p.WorkingHours.End = "17: 0" }, "workingHours.end"},
		{"start equals end", func(p *domain.Policy) { p.WorkingHours.End = "09:00" }, "workingHours.end"},
		{"bad timezone", func(p *domain.Policy) { p.WorkingHours.Timezone = "Mars/Olympus" }, "workingHours.timezone"},
		{"day out of range", func(p *domain.Policy) { p.WorkingHours.Days = []int{1, 8} }, "workingHours.days[1]"},
		{"no days", func(p *domain.Policy) { p.WorkingHours.Days = nil }, "workingHours.days"},
		{"week past total", func(p *domain.Policy) { p.Warmup.CurrentWeek = 5 }, "warmup.currentWeek"},
		{"speed above one", func(p *domain.Policy) {
			p.Warmup.Enabled = true
			p.Warmup.SpeedFactor = 1.5
		}, "warmup.speedFactor"},
		{"no sources", func(p *domain.Policy) { p.Sources = nil }, "sources"},
		{"default source missing", func(p *domain.Policy) {
			p.Sources = map[string]domain.SourceLimits{"sales-nav": p.Sources[domain.DefaultSourceKey]}
		}, "sources.linkedin"},
		{"negative cap", func(p *domain.Policy) {
			l := p.Sources[domain.DefaultSourceKey]
			l.MessagesPerDay = -1
			p.Sources[domain.DefaultSourceKey] = l
		}, "sources.linkedin.messagesPerDay"},
		{"zero concurrency", func(p *domain.Policy) {
			l := p.Sources[domain.DefaultSourceKey]
			l.Concurrency = 0
			p.Sources[domain.DefaultSourceKey] = l
		}, "sources.linkedin.concurrency"},
		{"negative failure limit", func(p *domain.Policy) { p.Guardrails.MaxFailuresPerDay = -1 }, "guardrails.maxFailuresPerDay"},
		{"unknown provider", func(p *domain.Policy) { p.Sender.Provider = "fax" }, "sender.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := Defaults("acct-1")
			tt.mutate(p)
			err := Validate(p)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	t.Parallel()

	p := Defaults("acct-1")
	p.WorkingHours.Days = nil
	p.WorkingHours.AllowWeekends = true
	p.WorkingHours.Start, p.WorkingHours.End = "22:00", "02:00"
	p.Warmup = domain.Warmup{Enabled: true, TotalWeeks: 6, CurrentWeek: 2, SpeedFactor: 0.5}
	p.Sender.Provider = domain.ProviderCookieImport
	assert.NoError(t, Validate(p))

	assert.Error(t, Validate(nil))
}
