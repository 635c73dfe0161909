// internal/renewal/engine.go
// Description: Reads the resource expiry, gates on the provider's renewal
// window and, only when the window is open, executes the strictly ordered
// mutating renewal sequence. The engine operates on an already authenticated
// session and is invoked at most once per run.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/config"
)

// ErrSequence marks a failure inside the mutating renewal sequence, after the
// window was confirmed open. The action is non-idempotent remotely; callers
// must not retry it within the same run.
var ErrSequence = errors.New("renewal sequence failed")

// Panel labels and patterns, as rendered by the management surfaces.
const (
	navGamePanel   = "ゲーム管理"
	navExtend      = "アップグレード・期限延長"
	markerNotOpen  = "残り契約時間が24時間を切るまで"
	actionExtend   = "期限を延長する"
	actionConfirm  = "確認画面に進む"
	xpathNewExpiry = `//tr[th[contains(., '延長後の期限')]]/td`
)

// remainingPattern matches the "remaining time" banner, e.g. "残り52時間13分".
// The expiry date is located with its own pattern because the panel sometimes
// renders it on a following line.
var (
	remainingPattern  = regexp.MustCompile(`残り\d+時間\d+分`)
	expiryDatePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})まで`)
)

// Engine drives the expiry inspection and renewal surfaces.
type Engine struct {
	driver schemas.Driver
	panel  config.PanelConfig
	logger *zap.Logger
}

// NewEngine wires the engine to the authenticated session's driver.
func NewEngine(driver schemas.Driver, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		driver: driver,
		panel:  cfg.Panel,
		logger: logger.Named("renewal"),
	}
}

// ReadCurrentExpiry navigates into the management area and extracts the
// current expiry date from the remaining-time banner. The banner is
// informational; its absence leaves the record unset and is not an error.
func (e *Engine) ReadCurrentExpiry(ctx context.Context) (schemas.ExpiryRecord, error) {
	if err := e.driver.ClickByText(ctx, navGamePanel); err != nil {
		return schemas.ExpiryRecord{}, fmt.Errorf("could not open management area: %w", err)
	}
	if err := pause(ctx, e.panel.StepPause); err != nil {
		return schemas.ExpiryRecord{}, err
	}

	_, found, err := e.driver.LocateText(ctx, remainingPattern.String())
	if err != nil {
		return schemas.ExpiryRecord{}, fmt.Errorf("could not scan for expiry banner: %w", err)
	}
	if !found {
		e.logger.Info("Expiry banner not present; old expiry stays unset.")
		return schemas.ExpiryRecord{}, nil
	}

	match, found, err := e.driver.LocateText(ctx, expiryDatePattern.String())
	if err != nil {
		return schemas.ExpiryRecord{}, fmt.Errorf("could not scan for expiry date: %w", err)
	}
	if !found {
		e.logger.Warn("Expiry banner present but date token missing.")
		return schemas.ExpiryRecord{}, nil
	}
	sub := expiryDatePattern.FindStringSubmatch(match)
	if sub == nil {
		return schemas.ExpiryRecord{}, nil
	}

	record := schemas.ExpiryRecord{Label: "oldExpiry", Value: sub[1]}
	e.logger.Info("Current expiry read.", zap.String("expiry", record.Value))
	return record, nil
}

// EvaluateWindow navigates to the renewal surface and reports whether the
// renewal window is open. When the "not yet open" marker is present no
// mutating action may follow.
func (e *Engine) EvaluateWindow(ctx context.Context) (bool, error) {
	if err := e.driver.ClickByText(ctx, navExtend); err != nil {
		return false, fmt.Errorf("could not open renewal surface: %w", err)
	}
	if err := pause(ctx, e.panel.StepPause); err != nil {
		return false, err
	}

	_, closed, err := e.driver.LocateText(ctx, regexp.QuoteMeta(markerNotOpen))
	if err != nil {
		return false, fmt.Errorf("could not scan for window marker: %w", err)
	}
	if closed {
		e.logger.Info("Renewal window not yet open; no action taken.")
		return false, nil
	}

	e.logger.Info("Renewal window is open.")
	return true, nil
}

// PerformRenewal executes the ordered click sequence: initiate, confirm,
// read back the new expiry, final confirm. The read-back happens before the
// final confirmation because the confirmation surface is the only place the
// new value is displayed.
func (e *Engine) PerformRenewal(ctx context.Context) (schemas.ExpiryRecord, error) {
	var newExpiry schemas.ExpiryRecord

	if err := e.driver.ClickByText(ctx, actionExtend); err != nil {
		return newExpiry, fmt.Errorf("%w: initiate: %v", ErrSequence, err)
	}
	if err := pause(ctx, e.panel.StepPause); err != nil {
		return newExpiry, fmt.Errorf("%w: %v", ErrSequence, err)
	}
	if err := e.driver.ClickByText(ctx, actionConfirm); err != nil {
		return newExpiry, fmt.Errorf("%w: confirm: %v", ErrSequence, err)
	}
	if err := pause(ctx, e.panel.StepPause); err != nil {
		return newExpiry, fmt.Errorf("%w: %v", ErrSequence, err)
	}

	value, err := e.driver.TextContent(ctx, xpathNewExpiry)
	if err != nil {
		return newExpiry, fmt.Errorf("%w: new expiry read-back: %v", ErrSequence, err)
	}
	newExpiry = schemas.ExpiryRecord{Label: "newExpiry", Value: value}
	e.logger.Info("New expiry read from confirmation surface.", zap.String("expiry", value))

	if err := e.driver.ClickByText(ctx, actionExtend); err != nil {
		return newExpiry, fmt.Errorf("%w: final confirm: %v", ErrSequence, err)
	}
	if err := pause(ctx, e.panel.StepPause); err != nil {
		return newExpiry, fmt.Errorf("%w: %v", ErrSequence, err)
	}

	loc, err := e.driver.Location(ctx)
	if err != nil {
		return newExpiry, fmt.Errorf("%w: post-renewal location: %v", ErrSequence, err)
	}
	if !strings.Contains(loc, e.panel.RenewedPath) {
		return newExpiry, fmt.Errorf("%w: landed on %s", ErrSequence, loc)
	}

	e.logger.Info("Renewal completed.", zap.String("new_expiry", newExpiry.Value))
	return newExpiry, nil
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
