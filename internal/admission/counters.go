package admission

import (
	"context"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Bucket groups actions that share a daily cap. BucketAll is the total.
type Bucket string

const (
	BucketAll          Bucket = "all"
	BucketProfileViews Bucket = "profile_views"
	BucketInvites      Bucket = "invites"
	BucketMessages     Bucket = "messages"
	BucketInMails      Bucket = "inmails"
	// BucketFailures counts failed actions per account, across sources.
	BucketFailures Bucket = "failures"
)

var typeBuckets = []Bucket{BucketProfileViews, BucketInvites, BucketMessages, BucketInMails}

func BucketFor(a domain.ActionType) Bucket {
	switch a {
	case domain.ActionExtract, domain.ActionProfileView:
		return BucketProfileViews
	case domain.ActionConnect:
		return BucketInvites
	case domain.ActionMessage:
		return BucketMessages
	case domain.ActionInMail:
		return BucketInMails
	}
	return BucketAll
}

func capForBucket(l domain.SourceLimits, b Bucket) int {
	switch b {
	case BucketProfileViews:
		return l.ProfileViewsPerDay
	case BucketInvites:
		return l.ConnectionInvitesPerDay
	case BucketMessages:
		return l.MessagesPerDay
	case BucketInMails:
		return l.InMailsPerDay
	}
	return 0
}

// CounterKey names one fixed window counter. Start is the window's first
// instant in the policy timezone.
type CounterKey struct {
	AccountID string
	SourceKey string
	Window    Window
	Bucket    Bucket
	Start     time.Time
}

// counterGrace keeps a closed window readable a little past its end.
const counterGrace = time.Hour

// Expiry is when the counter may be discarded.
func (k CounterKey) Expiry() time.Time {
	return windowEnd(k.Window, k.Start).Add(counterGrace)
}

func windowStart(w Window, t time.Time) time.Time {
	switch w {
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case WindowHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	default:
		return t.Truncate(time.Minute)
	}
}

func windowEnd(w Window, start time.Time) time.Time {
	switch w {
	case WindowDay:
		return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
	case WindowHour:
		return start.Add(time.Hour)
	default:
		return start.Add(time.Minute)
	}
}

// AccountState is the per-account pacing and concurrency state.
type AccountState struct {
	NextSlotAt    time.Time
	CooldownUntil time.Time
	InFlight      int64
}

// Reservation is everything an allowed action consumes, applied atomically.
type Reservation struct {
	AccountID   string
	Keys        []CounterKey
	TouchTarget string
	NextSlotAt  time.Time
	Now         time.Time
}

// CounterStore holds counters and account state. Counter values only grow
// within a window; a new window starts at zero.
type CounterStore interface {
	Counts(ctx context.Context, keys []CounterKey) ([]int64, error)
	Touches(ctx context.Context, accountID, targetRef string) (int64, error)
	State(ctx context.Context, accountID string) (AccountState, error)
	Reserve(ctx context.Context, r Reservation) error
	Release(ctx context.Context, accountID string) error
	SetCooldown(ctx context.Context, accountID string, until time.Time) error
	// Increment adds one to a single counter outside any reservation.
	Increment(ctx context.Context, key CounterKey) error
}

// failureKey is the account's failed-action counter for the day containing
// local. It is not tied to a source.
func failureKey(accountID string, local time.Time) CounterKey {
	return CounterKey{AccountID: accountID, Window: WindowDay, Bucket: BucketFailures, Start: windowStart(WindowDay, local)}
}
