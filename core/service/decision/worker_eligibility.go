package decision

import (
	"time"

	"engagement_worker/core/domain"
)

// Limits are the global send constraints.
type Limits struct {
	MaxEmailsPerWeek int
	MaxEmailsPerDay  int
	BasicWeeklyCap   int
	QuietHoursStart  int
	QuietHoursEnd    int
	DefaultTimezone  string
}

// DefaultLimits mirrors the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxEmailsPerWeek: 2,
		MaxEmailsPerDay:  1,
		BasicWeeklyCap:   5,
		QuietHoursStart:  20,
		QuietHoursEnd:    8,
		DefaultTimezone:  "America/Los_Angeles",
	}
}

// Ineligibility reasons.
const (
	ReasonUnsubscribed = "unsubscribed"
	ReasonNoConsent    = "no_consent"
	ReasonWeeklyCap    = "weekly_cap"
	ReasonDailyCap     = "daily_cap"
	ReasonQuietHours   = "quiet_hours"
)

// basicEligibility is the standalone gate: subscription and a weekly cap.
func (l Limits) basicEligibility(s *domain.FeatureSnapshot) string {
	if s.Unsubscribed {
		return ReasonUnsubscribed
	}
	if s.EmailsSent7d >= l.BasicWeeklyCap {
		return ReasonWeeklyCap
	}
	return ""
}

// storedEligibility is the full gate backed by the account record.
func (l Limits) storedEligibility(s *domain.FeatureSnapshot, account *domain.LearnerAccount, now time.Time) string {
	if s.Unsubscribed || (account != nil && account.Unsubscribed) {
		return ReasonUnsubscribed
	}
	if account == nil || !account.ConsentEmail {
		return ReasonNoConsent
	}
	if s.EmailsSent7d >= l.MaxEmailsPerWeek {
		return ReasonWeeklyCap
	}
	if s.EmailsSentToday >= l.MaxEmailsPerDay {
		return ReasonDailyCap
	}
	tz := account.Timezone
	if tz == "" {
		tz = l.DefaultTimezone
	}
	if !IsOutsideQuietHours(now, tz, l.QuietHoursStart, l.QuietHoursEnd) {
		return ReasonQuietHours
	}
	return ""
}

// IsOutsideQuietHours reports whether now, in the given timezone, falls
// outside the [start, end) quiet window. The window may wrap midnight;
// start == end means there are no quiet hours. An unknown timezone is
// treated as outside quiet hours.
func IsOutsideQuietHours(now time.Time, tz string, start, end int) bool {
	if start == end {
		return true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return true
	}
	hour := now.In(loc).Hour()

	var quiet bool
	if start < end {
		quiet = hour >= start && hour < end
	} else {
		quiet = hour >= start || hour < end
	}
	return !quiet
}
