// File: internal/orchestrator/orchestrator.go
// Description: Sequences one renewal run: login, conditional two-factor,
// expiry read, eligibility gate, renewal, report. Owns top-level failure
// containment; any stage failure aborts the run but the orchestrator still
// emits best-effort diagnostics and releases the session on every exit path.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/auth"
)

// Authenticator drives the login state machine.
type Authenticator interface {
	SubmitCredentials(ctx context.Context, creds schemas.Credentials) error
	DetectChallenge(ctx context.Context) (auth.State, error)
	CompleteTwoFactor(ctx context.Context, retriever auth.CodeRetriever) error
}

// EligibilityEngine inspects the expiry and performs the renewal.
type EligibilityEngine interface {
	ReadCurrentExpiry(ctx context.Context) (schemas.ExpiryRecord, error)
	EvaluateWindow(ctx context.Context) (bool, error)
	PerformRenewal(ctx context.Context) (schemas.ExpiryRecord, error)
}

// ReportEmitter persists the terminal run state.
type ReportEmitter interface {
	Emit(r schemas.RunReport) error
}

// Orchestrator composes the run stages. It is injected with fully configured
// components via interfaces, keeping it decoupled and testable.
type Orchestrator struct {
	creds     schemas.Credentials
	authn     Authenticator
	retriever auth.CodeRetriever
	engine    EligibilityEngine
	emitter   ReportEmitter
	driver    schemas.Driver
	closeFn   func()
	logger    *zap.Logger

	// now is injectable for deterministic report timestamps in tests.
	now func() time.Time
}

// New creates an Orchestrator with its dependencies.
func New(
	creds schemas.Credentials,
	authn Authenticator,
	retriever auth.CodeRetriever,
	engine EligibilityEngine,
	emitter ReportEmitter,
	driver schemas.Driver,
	closeFn func(),
	logger *zap.Logger,
) (*Orchestrator, error) {
	if authn == nil || retriever == nil || engine == nil || emitter == nil || driver == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return &Orchestrator{
		creds:     creds,
		authn:     authn,
		retriever: retriever,
		engine:    engine,
		emitter:   emitter,
		driver:    driver,
		closeFn:   closeFn,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}, nil
}

// Run executes one full renewal pass and returns the finalized report. The
// report is emitted and the session released regardless of the error result.
func (o *Orchestrator) Run(ctx context.Context) (schemas.RunReport, error) {
	defer o.closeFn()

	rep, runErr := o.execute(ctx, schemas.NewRunReport())
	rep = rep.Finalize(o.now())

	// Best-effort diagnostics even on failure: the report and a final
	// screenshot must never mask the run's real result.
	if err := o.emitter.Emit(rep); err != nil {
		o.logger.Warn("Failed to emit run report.", zap.Error(err))
	}
	if err := o.driver.CaptureScreenshot(ctx, "final_status"); err != nil {
		o.logger.Warn("Failed to capture final screenshot.", zap.Error(err))
	}

	if runErr != nil {
		o.logger.Error("Run aborted.", zap.Error(runErr), zap.String("outcome", string(rep.Outcome)))
	} else {
		o.logger.Info("Run completed.", zap.String("outcome", string(rep.Outcome)))
	}
	return rep, runErr
}

// execute walks the stage sequence, threading the report through each stage.
// The renewal outcome only ever moves forward; a login failure leaves it at
// Unknown and is surfaced as a run failure, not a renewal decision.
func (o *Orchestrator) execute(ctx context.Context, rep schemas.RunReport) (schemas.RunReport, error) {
	// 1. Login.
	if err := o.authn.SubmitCredentials(ctx, o.creds); err != nil {
		return rep, err
	}

	state, err := o.authn.DetectChallenge(ctx)
	if err != nil {
		return rep, err
	}
	switch state {
	case auth.StateTwoFactorChallenge:
		if err := o.authn.CompleteTwoFactor(ctx, o.retriever); err != nil {
			return rep, err
		}
	case auth.StateAuthenticated:
		// Straight through, no challenge issued.
	default:
		return rep, fmt.Errorf("%w: state %s after submission", auth.ErrLoginFailed, state)
	}

	// 2. Expiry read. Informational; an unset record is tolerated.
	oldExpiry, err := o.engine.ReadCurrentExpiry(ctx)
	if err != nil {
		return rep, err
	}
	rep = rep.WithOldExpiry(oldExpiry)

	// 3. Eligibility gate. Nothing mutating happens when the window is shut.
	open, err := o.engine.EvaluateWindow(ctx)
	if err != nil {
		return rep, err
	}
	if !open {
		return rep.WithOutcome(schemas.OutcomeNotYetEligible), nil
	}

	// 4. Renewal, at most once per run and never retried.
	newExpiry, err := o.engine.PerformRenewal(ctx)
	if newExpiry.IsSet() {
		// The read-back precedes the final confirmation, so a partially
		// failed sequence may still have observed the new value.
		rep = rep.WithNewExpiry(newExpiry)
	}
	if err != nil {
		return rep.WithOutcome(schemas.OutcomeFailed), err
	}

	return rep.WithOutcome(schemas.OutcomeSucceeded), nil
}
