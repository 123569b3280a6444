// Package directory resolves caller identity and relationship data from the
// CRM/owner datastore.
//
// Resolution is best-effort by contract: [Resolver.Resolve] always returns a
// usable [CallerContext]. A caller with no directory match, or one whose
// lookups fail mid-flight, yields the anonymous new-caller context instead of
// an error. A phone call must never be refused over a datastore hiccup.
package directory

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"
)

// StageOwner is the relationship stage assigned to property-owner matches.
// Lead matches carry their CRM pipeline stage verbatim (e.g. "prospect",
// "negotiating").
const StageOwner = "owner"

// scheduledCallWindow is the ±window around now within which a booked
// appointment counts as an active scheduled call.
const scheduledCallWindow = 30 * time.Minute

// maxNotesLen bounds the free-text notes carried in a caller context.
const maxNotesLen = 500

// CallerContext is the read-only snapshot of everything the bridge knows
// about a caller, resolved once per call session.
type CallerContext struct {
	// Phone is the caller number as received from the telephony provider.
	Phone string

	// Name is the caller's display name, empty when unknown.
	Name string

	// PropertyAddress is the address of the property the caller is associated
	// with, empty when unknown.
	PropertyAddress string

	// Stage is the relationship stage: a CRM pipeline stage for leads,
	// [StageOwner] for owners, empty when unknown.
	Stage string

	// LastContactAt is the timestamp of the most recent prior contact.
	// Zero when there is none.
	LastContactAt time.Time

	// HasScheduledCall reports whether an appointment is booked within
	// ±30 minutes of the resolution time.
	HasScheduledCall bool

	// Notes holds free-text CRM notes, truncated to a bounded length.
	Notes string

	// Communications counts prior outreach per channel ("call", "sms",
	// "email", ...). Nil or empty when there is no history.
	Communications map[string]int

	// IsNewCaller is true when no directory record matched the number.
	IsNewCaller bool
}

// CallCount returns the number of prior call-channel communications.
func (c CallerContext) CallCount() int {
	return c.Communications["call"]
}

// Lead is a prospective-seller record from the CRM.
type Lead struct {
	ID              string
	Name            string
	Phone           string
	PropertyAddress string
	Stage           string
	Notes           string
	LastContactAt   time.Time
}

// Owner is a property-owner record from the owner datastore.
type Owner struct {
	ID              string
	Name            string
	Phone           string
	PropertyAddress string
	LastContactAt   time.Time
}

// Store is the read-only lookup interface over the directory datastore.
// [PostgresStore] is the production implementation; tests supply fakes.
//
// Find methods return (nil, nil) when no record matches.
type Store interface {
	// FindLead looks a lead up by any of the formatted phone variants, or by
	// national-number suffix when the variants miss.
	FindLead(ctx context.Context, variants PhoneVariants) (*Lead, error)

	// FindOwner looks a property owner up the same way.
	FindOwner(ctx context.Context, variants PhoneVariants) (*Owner, error)

	// CommunicationCounts returns the lead's prior outreach grouped by channel.
	CommunicationCounts(ctx context.Context, leadID string) (map[string]int, error)

	// HasAppointmentWithin reports whether the lead has an appointment
	// scheduled within ±window of at.
	HasAppointmentWithin(ctx context.Context, leadID string, at time.Time, window time.Duration) (bool, error)
}

// Resolver resolves caller contexts against a [Store]. Safe for concurrent
// use by many call sessions; the store is accessed read-only.
type Resolver struct {
	store  Store
	region string

	// now is stubbed in tests.
	now func() time.Time
}

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the wall clock used for the scheduled-call window.
// Primarily used in tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over store. region is the ISO region used to
// parse caller numbers without an international prefix; empty defaults to "US".
func NewResolver(store Store, region string, opts ...ResolverOption) *Resolver {
	if region == "" {
		region = "US"
	}
	r := &Resolver{
		store:  store,
		region: region,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks rawPhone up in the directory and returns the caller's
// context. It never fails: a store error or a total miss degrades to the
// anonymous new-caller context, and a partial failure (history or
// appointment lookup) degrades only the affected field.
func (r *Resolver) Resolve(ctx context.Context, rawPhone string) CallerContext {
	cc := CallerContext{Phone: rawPhone, IsNewCaller: true}
	if r.store == nil {
		return cc
	}

	variants := VariantsOf(rawPhone, r.region)

	lead, err := r.store.FindLead(ctx, variants)
	if err != nil {
		slog.Warn("directory: lead lookup failed", "phone", rawPhone, "err", err)
	}
	if lead != nil {
		cc.Name = lead.Name
		cc.PropertyAddress = lead.PropertyAddress
		cc.Stage = lead.Stage
		cc.Notes = truncate(lead.Notes, maxNotesLen)
		cc.LastContactAt = lead.LastContactAt
		cc.IsNewCaller = false

		counts, err := r.store.CommunicationCounts(ctx, lead.ID)
		if err != nil {
			slog.Warn("directory: communication counts failed", "lead_id", lead.ID, "err", err)
		} else {
			cc.Communications = counts
		}

		scheduled, err := r.store.HasAppointmentWithin(ctx, lead.ID, r.now(), scheduledCallWindow)
		if err != nil {
			slog.Warn("directory: appointment lookup failed", "lead_id", lead.ID, "err", err)
		} else {
			cc.HasScheduledCall = scheduled
		}
		return cc
	}

	owner, err := r.store.FindOwner(ctx, variants)
	if err != nil {
		slog.Warn("directory: owner lookup failed", "phone", rawPhone, "err", err)
	}
	if owner != nil {
		cc.Name = owner.Name
		cc.PropertyAddress = owner.PropertyAddress
		cc.Stage = StageOwner
		cc.LastContactAt = owner.LastContactAt
		cc.IsNewCaller = false
	}
	return cc
}

// truncate bounds s to max bytes without splitting a trailing rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
