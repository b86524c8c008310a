package models

import "time"

// AuthKind selects how a custom endpoint call authenticates.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthOAuth2 AuthKind = "oauth2"
)

// CustomEndpointDefinition describes a pass-through call outside the
// standard sync categories.
type CustomEndpointDefinition struct {
	ConnectorID string            `json:"connector_id"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Auth        AuthKind          `json:"auth,omitempty"`
	RateLimit   RateLimitPolicy   `json:"rate_limit"`
	// RequiredFields is the payload contract checked before dispatch
	RequiredFields []string `json:"required_fields,omitempty"`
}

// Period is a trailing aggregation window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Valid reports whether the period is known.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// WindowFor returns the trailing window of the period ending at now.
func WindowFor(p Period, now time.Time) Window {
	var from time.Time
	switch p {
	case PeriodWeek:
		from = now.AddDate(0, 0, -7)
	case PeriodMonth:
		from = now.AddDate(0, -1, 0)
	case PeriodYear:
		from = now.AddDate(-1, 0, 0)
	default:
		from = now.AddDate(0, 0, -1)
	}
	// Jobs started exactly at now belong to the window.
	return Window{From: from, To: now.Add(time.Nanosecond)}
}

// Contains reports whether t lies inside the window. A zero bound is open.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}
