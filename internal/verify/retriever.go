// internal/verify/retriever.go
// Description: Retrieves the out-of-band verification code from the inbox.
// The authoritative mail traverses a forwarding hop before it is captured, so
// the retriever waits a settling delay and then polls on an interval until
// the wall-clock budget is exhausted.
package verify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
)

// ErrBudgetExhausted is returned when no code arrived within the budget.
var ErrBudgetExhausted = errors.New("verification code did not arrive within budget")

// codePattern matches the marker label, an optional run of ASCII or
// full-width whitespace, a separator, and a 4-8 digit code.
var codePattern = regexp.MustCompile(`【認証コード】[\s　]*[：:][\s　]*(\d{4,8})`)

// DefaultSubjectMarker identifies challenge mails in the inbox listing.
const DefaultSubjectMarker = "認証コード"

// Request describes one retrieval attempt. Created when the challenge is
// detected, discarded once a code is extracted or the budget runs out.
type Request struct {
	IssuedAt      time.Time
	SubjectMarker string
	Budget        time.Duration
}

// Config tunes the polling policy.
type Config struct {
	// SettleDelay is waited before the first poll so the forwarding pipeline
	// can deliver the mail. Polling immediately just burns API quota.
	SettleDelay time.Duration
	// PollInterval spaces subsequent polls until the budget elapses.
	PollInterval time.Duration
}

// Retriever polls a MailboxReader for the verification code.
type Retriever struct {
	reader schemas.MailboxReader
	cfg    Config
	logger *zap.Logger
}

// NewRetriever wires the retriever to an inbox.
func NewRetriever(reader schemas.MailboxReader, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Retriever{
		reader: reader,
		cfg:    cfg,
		logger: logger.Named("verify"),
	}
}

// RetrieveCode returns the digit run of the newest matching challenge mail.
// Transient listing/fetch failures and extraction misses are treated as "not
// yet available" and retried on the next tick; only budget exhaustion or
// context cancellation surface as errors.
func (r *Retriever) RetrieveCode(ctx context.Context, req Request) (string, error) {
	marker := req.SubjectMarker
	if marker == "" {
		marker = DefaultSubjectMarker
	}

	deadline := time.Now().Add(req.Budget)

	r.logger.Info("Waiting for forwarding pipeline to settle.",
		zap.Duration("settle_delay", r.cfg.SettleDelay),
		zap.Duration("budget", req.Budget))
	if err := sleepCtx(ctx, r.cfg.SettleDelay); err != nil {
		return "", err
	}

	for attempt := 1; ; attempt++ {
		code, ok := r.poll(ctx, marker)
		if ok {
			r.logger.Info("Verification code extracted.", zap.Int("attempt", attempt))
			return code, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !time.Now().Add(r.cfg.PollInterval).Before(deadline) {
			r.logger.Warn("Verification budget exhausted.", zap.Int("attempts", attempt))
			return "", ErrBudgetExhausted
		}
		if err := sleepCtx(ctx, r.cfg.PollInterval); err != nil {
			return "", err
		}
	}
}

// poll performs one list-select-fetch-extract cycle.
func (r *Retriever) poll(ctx context.Context, marker string) (string, bool) {
	messages, err := r.reader.ListMessages(ctx)
	if err != nil {
		r.logger.Debug("Inbox listing failed; will retry.", zap.Error(err))
		return "", false
	}
	if len(messages) == 0 {
		r.logger.Debug("Inbox is empty; will retry.")
		return "", false
	}

	// The listing is reverse-chronological, so the first subject match is
	// the most recent challenge mail.
	var selected *schemas.MailMessage
	for i := range messages {
		if strings.Contains(messages[i].Subject, marker) {
			selected = &messages[i]
			break
		}
	}
	if selected == nil {
		r.logger.Debug("No message subject matched the verification marker; will retry.",
			zap.Int("messages", len(messages)))
		return "", false
	}

	body, err := r.reader.FetchPlainTextBody(ctx, selected.ID)
	if err != nil {
		r.logger.Debug("Body fetch failed; will retry.", zap.Int64("message_id", selected.ID), zap.Error(err))
		return "", false
	}

	return ExtractCode(body)
}

// ExtractCode applies the code pattern to a message body and returns exactly
// the digit run. A miss is a value, not an error.
func ExtractCode(body string) (string, bool) {
	m := codePattern.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// sleepCtx pauses for d, aborting early if the context ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
