// internal/auth/statemachine.go
// Description: Drives credential submission and conditional two-factor
// completion against the panel. Transitions are explicit values; thrown
// failures are reserved for the driver being unavailable.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/config"
	"github.com/xkilldash9x/xsrenew-cli/internal/verify"
)

// State enumerates the login flow positions.
type State string

const (
	StateInit                 State = "Init"
	StateCredentialsSubmitted State = "CredentialsSubmitted"
	StateTwoFactorChallenge   State = "TwoFactorChallenge"
	StateAuthenticated        State = "Authenticated"
	StateLoginFailed          State = "LoginFailed"
)

var (
	// ErrLoginSubmission: the credential surface never became ready or the
	// submission could not be dispatched. Terminal for the run; resubmitting
	// against a live login endpoint risks an account lockout.
	ErrLoginSubmission = errors.New("login submission failed")
	// ErrVerificationTimeout: the second-factor code never arrived in budget.
	ErrVerificationTimeout = errors.New("verification code retrieval timed out")
	// ErrLoginFailed: the post-submission location matched neither the
	// challenge nor the authenticated landing area.
	ErrLoginFailed = errors.New("login failed")
	// ErrInvalidState guards transitions attempted out of order.
	ErrInvalidState = errors.New("invalid state for transition")
)

// Panel selectors, as rendered by the login and challenge surfaces.
const (
	selMemberID   = `input[name='memberid']`
	selPassword   = `input[name='user_password']`
	selLoginBtn   = `input[value='ログインする']`
	selSendCode   = `input[value*='送信']`
	selAuthCode   = `input[name='auth_code']`
	selAuthSubmit = `input[type='submit'][value='ログイン']`
)

// CodeRetriever yields the out-of-band verification code.
type CodeRetriever interface {
	RetrieveCode(ctx context.Context, req verify.Request) (string, error)
}

// StateMachine sequences the login flow over the driver capability.
type StateMachine struct {
	driver     schemas.Driver
	panel      config.PanelConfig
	codeBudget time.Duration
	logger     *zap.Logger

	state State
}

// New creates a state machine in StateInit.
func New(driver schemas.Driver, cfg *config.Config, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		driver:     driver,
		panel:      cfg.Panel,
		codeBudget: cfg.Mailbox.CodeBudget,
		logger:     logger.Named("auth"),
		state:      StateInit,
	}
}

// State returns the current flow position.
func (m *StateMachine) State() State { return m.state }

// SubmitCredentials navigates to the login surface, enters the credentials
// with paced keystrokes and dispatches the form. The submission mutates
// remote session state and is never retried.
func (m *StateMachine) SubmitCredentials(ctx context.Context, creds schemas.Credentials) error {
	if m.state != StateInit {
		return fmt.Errorf("%w: SubmitCredentials from %s", ErrInvalidState, m.state)
	}

	m.logger.Info("Navigating to login surface.", zap.String("url", m.panel.LoginURL))
	if err := m.driver.Navigate(ctx, m.panel.LoginURL); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("%w: %v", ErrLoginSubmission, err)
	}
	if err := m.driver.WaitReady(ctx, selMemberID, m.panel.WaitTimeout); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("%w: credential surface never became ready: %v", ErrLoginSubmission, err)
	}

	m.logger.Info("Submitting credentials.", zap.String("identifier", creds.Identifier))
	steps := []func(context.Context) error{
		func(c context.Context) error { return m.driver.Fill(c, selMemberID, "") },
		func(c context.Context) error { return m.driver.TypeWithPacing(c, selMemberID, creds.Identifier) },
		func(c context.Context) error { return m.driver.Fill(c, selPassword, "") },
		func(c context.Context) error { return m.driver.TypeWithPacing(c, selPassword, creds.Secret) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			m.state = StateLoginFailed
			return fmt.Errorf("%w: %v", ErrLoginSubmission, err)
		}
	}

	// Brief pause before dispatch; an instant submit after the last key
	// reads as automation.
	if err := pause(ctx, time.Second); err != nil {
		m.state = StateLoginFailed
		return err
	}
	if err := m.driver.Click(ctx, selLoginBtn); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("%w: could not dispatch submission: %v", ErrLoginSubmission, err)
	}

	m.state = StateCredentialsSubmitted
	m.logger.Info("Login form submitted.")
	return nil
}

// DetectChallenge inspects the post-submission location and transitions to
// the challenge, the authenticated landing area, or LoginFailed.
func (m *StateMachine) DetectChallenge(ctx context.Context) (State, error) {
	if m.state != StateCredentialsSubmitted {
		return m.state, fmt.Errorf("%w: DetectChallenge from %s", ErrInvalidState, m.state)
	}

	// Give the panel time to settle on its post-login redirect.
	if err := pause(ctx, m.panel.StepPause); err != nil {
		return m.state, err
	}

	loc, err := m.driver.Location(ctx)
	if err != nil {
		m.state = StateLoginFailed
		return m.state, fmt.Errorf("could not determine post-submission location: %w", err)
	}

	switch {
	case strings.Contains(loc, m.panel.TwoFactorPath):
		m.state = StateTwoFactorChallenge
		m.logger.Info("Two-factor challenge detected.", zap.String("location", loc))
	case strings.Contains(loc, m.panel.LandingPath):
		m.state = StateAuthenticated
		m.logger.Info("Authenticated without challenge.", zap.String("location", loc))
	default:
		m.state = StateLoginFailed
		m.logger.Warn("Post-submission location matches neither challenge nor landing area.",
			zap.String("location", loc))
	}
	return m.state, nil
}

// CompleteTwoFactor triggers code delivery, retrieves the code out-of-band
// and submits it. Only reachable from StateTwoFactorChallenge.
func (m *StateMachine) CompleteTwoFactor(ctx context.Context, retriever CodeRetriever) error {
	if m.state != StateTwoFactorChallenge {
		return fmt.Errorf("%w: CompleteTwoFactor from %s", ErrInvalidState, m.state)
	}

	m.logger.Info("Requesting verification code delivery.")
	if err := m.driver.Click(ctx, selSendCode); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("could not trigger code delivery: %w", err)
	}

	req := verify.Request{
		IssuedAt:      time.Now(),
		SubjectMarker: verify.DefaultSubjectMarker,
		Budget:        m.codeBudget,
	}
	code, err := retriever.RetrieveCode(ctx, req)
	if err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("%w: %v", ErrVerificationTimeout, err)
	}

	m.logger.Info("Submitting verification code.")
	if err := m.driver.Fill(ctx, selAuthCode, code); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("could not enter verification code: %w", err)
	}
	if err := m.driver.Click(ctx, selAuthSubmit); err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("could not submit verification code: %w", err)
	}
	if err := pause(ctx, m.panel.StepPause); err != nil {
		m.state = StateLoginFailed
		return err
	}

	loc, err := m.driver.Location(ctx)
	if err != nil {
		m.state = StateLoginFailed
		return fmt.Errorf("could not determine post-verification location: %w", err)
	}
	if !strings.Contains(loc, m.panel.LandingPath) {
		m.state = StateLoginFailed
		m.logger.Warn("Verification submitted but landing area not reached.", zap.String("location", loc))
		return fmt.Errorf("%w: landed on %s", ErrLoginFailed, loc)
	}

	m.state = StateAuthenticated
	m.logger.Info("Two-factor challenge completed.")
	return nil
}

// pause sleeps for d, aborting early if the context ends.
func pause(ctx context.Context, d time.Duration) error {
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
