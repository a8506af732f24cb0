package domain

import "time"

type SessionProvider string

const (
	ProviderEmbeddedAuth SessionProvider = "embedded-auth"
	ProviderCookieImport SessionProvider = "cookie-import"
)

func (p SessionProvider) Valid() bool {
	return p == ProviderEmbeddedAuth || p == ProviderCookieImport
}

type SessionStatus string

const (
	SessionConnected   SessionStatus = "connected"
	SessionNeedsReauth SessionStatus = "needs_reauth"
	SessionExpired     SessionStatus = "expired"
	SessionTesting     SessionStatus = "testing"
)

// Session is an authenticated platform identity for one account.
// The credential is stored sealed and never serialized to API callers.
type Session struct {
	ID                   string          `db:"id"                      json:"id"`
	AccountID            string          `db:"account_id"              json:"accountId"`
	Provider             SessionProvider `db:"provider"                json:"provider"`
	Status               SessionStatus   `db:"status"                  json:"status"`
	ProviderRef          string          `db:"provider_ref"            json:"-"`
	SealedCredential     []byte          `db:"sealed_credential"       json:"-"`
	StatusReason         string          `db:"status_reason"           json:"statusReason,omitempty"`
	InitialCookieAgeDays int             `db:"initial_cookie_age_days" json:"-"`
	LastAuthAt           time.Time       `db:"last_auth_at"            json:"lastAuthAt"`
	LastTestedAt         *time.Time      `db:"last_tested_at"          json:"lastTestedAt,omitempty"`
	CreatedAt            time.Time       `db:"created_at"              json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at"              json:"updatedAt"`
}

// CookieAgeDays is the credential's age at now: its age when imported
// plus whole days since authentication.
func (s *Session) CookieAgeDays(now time.Time) int {
	elapsed := int(now.Sub(s.LastAuthAt) / (24 * time.Hour))
	if elapsed < 0 {
		elapsed = 0
	}
	return s.InitialCookieAgeDays + elapsed
}
