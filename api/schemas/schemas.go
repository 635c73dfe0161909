// api/schemas/schemas.go
package schemas

import (
	"fmt"
	"time"
)

// ReportTimeZone is the fixed civil time zone used for report timestamps and
// screenshot filenames, independent of the host locale.
var ReportTimeZone = time.FixedZone("UTC+8", 8*60*60)

// Credentials identifies the panel account for one run. The secret must never
// appear in logs or reports.
type Credentials struct {
	Identifier string
	Secret     string
}

// Redacted returns a loggable representation of the credentials.
func (c Credentials) Redacted() string {
	return fmt.Sprintf("Credentials{Identifier: %q, Secret: [redacted]}", c.Identifier)
}

// MailMessage is a read-only view of one inbox message. The body is fetched
// separately by ID; listings only carry the envelope.
type MailMessage struct {
	ID      int64
	Subject string
	SentAt  time.Time
}

// ExpiryRecord captures the resource expiry as displayed by the panel.
type ExpiryRecord struct {
	Label string
	Value string
}

// IsSet reports whether an expiry value was actually read from the panel.
func (e ExpiryRecord) IsSet() bool { return e.Value != "" }

// Outcome is the terminal renewal result of one run. It only ever moves
// forward from OutcomeUnknown; a terminal outcome is never revised.
type Outcome string

const (
	OutcomeUnknown        Outcome = "Unknown"
	OutcomeNotYetEligible Outcome = "NotYetEligible"
	OutcomeSucceeded      Outcome = "Succeeded"
	OutcomeFailed         Outcome = "Failed"
)

// Terminal reports whether the outcome has been decided.
func (o Outcome) Terminal() bool { return o != OutcomeUnknown && o != "" }

// RunReport is the immutable summary of a single run. Stages derive updated
// copies via the With* helpers instead of mutating shared state.
type RunReport struct {
	GeneratedAt time.Time
	Outcome     Outcome
	OldExpiry   ExpiryRecord
	NewExpiry   ExpiryRecord
}

// NewRunReport returns the initial report for a run that has decided nothing.
func NewRunReport() RunReport {
	return RunReport{Outcome: OutcomeUnknown}
}

// WithOutcome returns a copy with the outcome assigned. Assignments past a
// terminal outcome are ignored, preserving the forward-only invariant.
func (r RunReport) WithOutcome(o Outcome) RunReport {
	if r.Outcome.Terminal() {
		return r
	}
	r.Outcome = o
	return r
}

// WithOldExpiry returns a copy with the pre-renewal expiry recorded.
func (r RunReport) WithOldExpiry(e ExpiryRecord) RunReport {
	r.OldExpiry = e
	return r
}

// WithNewExpiry returns a copy with the post-renewal expiry recorded.
func (r RunReport) WithNewExpiry(e ExpiryRecord) RunReport {
	r.NewExpiry = e
	return r
}

// Finalize stamps the generation time. Called once, just before emission.
func (r RunReport) Finalize(at time.Time) RunReport {
	r.GeneratedAt = at
	return r
}
