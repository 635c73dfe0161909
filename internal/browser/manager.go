// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/internal/config"
)

// Manager handles the lifecycle of the headless browser process. One process
// hosts one run; the per-run tab is created through NewSession.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx manages the entire browser process. The session context is
	// derived from this.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
}

// NewManager launches the browser process and verifies it responds.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

// launchBrowser prepares allocator options and starts the headless browser process.
func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	// Verify the browser starts and is responsive before handing it out.
	testCtx, cancelTest := context.WithTimeout(allocCtx, 30*time.Second)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.",
		zap.Bool("headless", m.cfg.Browser.Headless))
	return nil
}

// buildAllocatorOptions assembles the flags for a stealthy, configurable
// browser instance. Flags that reveal automation are stripped.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	bc := m.cfg.Browser
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Flags are keyed by name, so a false bool overrides the default and
		// drops the switch from the command line entirely.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", bc.Headless),
		// The panel fingerprints navigator.webdriver; disable the Blink
		// feature that sets it.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", bc.Headless),
		chromedp.Flag("lang", bc.Language),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", bc.WindowWidth, bc.WindowHeight)),
		chromedp.UserAgent(bc.UserAgent),
	)

	// Custom arguments from the config file.
	for _, arg := range bc.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers (e.g. CI on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// NewSession creates the isolated browser tab for a run.
func (m *Manager) NewSession() (*Session, error) {
	if m.allocatorCtx == nil {
		return nil, fmt.Errorf("browser manager is not initialized")
	}
	return newSession(m.allocatorCtx, m.cfg, m.logger)
}

// Shutdown terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.allocatorCancel == nil {
		return nil
	}
	m.logger.Info("Shutting down browser process...")
	m.allocatorCancel()

	select {
	case <-m.allocatorCtx.Done():
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded while waiting for browser termination.", zap.Error(ctx.Err()))
	}
	return nil
}
