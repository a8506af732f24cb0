package policy

import "github.com/jonesrussell/north-cloud/sniper/internal/domain"

// DefaultTimezone applies when the service config does not override it.
const DefaultTimezone = "America/Chicago"

const (
	defaultStart               = "09:00"
	defaultEnd                 = "17:00"
	defaultWarmupWeeks         = 4
	defaultSpeedFactor         = 1.0
	defaultProfileViewsPerDay  = 80
	defaultInvitesPerDay       = 20
	defaultMessagesPerDay      = 50
	defaultInMailsPerDay       = 10
	defaultConcurrency         = 1
	defaultActionsPerMinute    = 2
	defaultMaxActionsPerDay    = 150
	defaultMaxActionsPerHour   = 30
	defaultMinDelaySeconds     = 45
	defaultMaxDelaySeconds     = 120
	defaultMaxTouchesPerPerson = 3
	defaultCooldownMinutes     = 60
	defaultMaxFailuresPerDay   = 3
)

// Defaults returns the built-in policy for accountID at version 0.
func Defaults(accountID string) *domain.Policy {
	return DefaultsIn(accountID, DefaultTimezone)
}

// DefaultsIn is Defaults with a specific working-hours timezone.
func DefaultsIn(accountID, timezone string) *domain.Policy {
	return &domain.Policy{
		AccountID: accountID,
		WorkingHours: domain.WorkingHours{
			Timezone: timezone,
			Start:    defaultStart,
			End:      defaultEnd,
			Days:     []int{1, 2, 3, 4, 5},
		},
		Warmup: domain.Warmup{
			TotalWeeks:  defaultWarmupWeeks,
			CurrentWeek: 1,
			SpeedFactor: defaultSpeedFactor,
		},
		Sources: map[string]domain.SourceLimits{
			domain.DefaultSourceKey: {
				ProfileViewsPerDay:      defaultProfileViewsPerDay,
				ConnectionInvitesPerDay: defaultInvitesPerDay,
				MessagesPerDay:          defaultMessagesPerDay,
				InMailsPerDay:           defaultInMailsPerDay,
				Concurrency:             defaultConcurrency,
				ActionsPerMinute:        defaultActionsPerMinute,
			},
		},
		Guardrails: domain.Guardrails{
			MaxActionsPerDay:    defaultMaxActionsPerDay,
			MaxActionsPerHour:   defaultMaxActionsPerHour,
			MinDelaySeconds:     defaultMinDelaySeconds,
			MaxDelaySeconds:     defaultMaxDelaySeconds,
			SafetyModeEnabled:   true,
			MaxTouchesPerPerson: defaultMaxTouchesPerPerson,
			DoNotContactDomains: []string{},
			CooldownMinutes:     defaultCooldownMinutes,
			MaxFailuresPerDay:   defaultMaxFailuresPerDay,
		},
	}
}
