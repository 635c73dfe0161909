// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/config"
)

// Ensure Session implements the driver capability.
var _ schemas.Driver = (*Session)(nil)

// Session manages a single, isolated browser tab. It is the AuthSession of a
// run: created on demand, owned by the orchestrator, closed unconditionally.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config

	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	rng *rand.Rand

	mu              sync.Mutex
	screenshotCount int
	closed          bool
}

// newSession creates the browser tab off the allocator context.
func newSession(allocCtx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	id := uuid.New().String()
	sessionCtx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:            id,
		logger:        logger.Named("session").With(zap.String("session_id", id[:8])),
		cfg:           cfg,
		sessionCtx:    sessionCtx,
		sessionCancel: cancel,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.logger.Info("Browser session initialized.")
	return s, nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// combineContext derives a context from the session context (which carries
// the CDP target) that is also canceled when the operational ctx is canceled.
func (s *Session) combineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(s.sessionCtx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := s.combineContext(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and waits for the document plus a settling period.
// Request headers carry the configured language so the served pages match the
// browser persona.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.run(ctx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": s.cfg.Browser.Language + ",ja;q=0.9",
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.Browser.PostLoadWait),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// WaitReady blocks until the selector is visible or the timeout elapses.
func (s *Session) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("selector %q did not become ready within %v: %w", selector, timeout, err)
	}
	return nil
}

// Fill replaces the value of an input wholesale.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := s.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, err)
	}
	return nil
}

// TypeWithPacing enters text with randomized per-keystroke delays. Uniform
// machine-speed input is a common automation fingerprint.
func (s *Session) TypeWithPacing(ctx context.Context, selector, text string) error {
	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.ActionFunc(func(actionCtx context.Context) error {
			for _, r := range text {
				if err := chromedp.KeyEvent(string(r)).Do(actionCtx); err != nil {
					return err
				}
				pause := time.Duration(60+s.rng.Intn(90)) * time.Millisecond
				select {
				case <-time.After(pause):
				case <-actionCtx.Done():
					return actionCtx.Err()
				}
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

// Click dispatches a click on the first element matching the CSS selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// ClickByText clicks the link or button whose visible label contains text.
// The panel navigates almost exclusively through labeled anchors.
func (s *Session) ClickByText(ctx context.Context, text string) error {
	xpath := fmt.Sprintf(
		`//a[contains(normalize-space(.), %[1]s)] | //button[contains(normalize-space(.), %[1]s)]`,
		xpathLiteral(text),
	)
	if err := s.run(ctx,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	); err != nil {
		return fmt.Errorf("failed to click element labeled %q: %w", text, err)
	}
	return nil
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return loc, nil
}

// LocateText searches the visible page text for a regexp pattern.
func (s *Session) LocateText(ctx context.Context, pattern string) (string, bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false, fmt.Errorf("invalid text pattern %q: %w", pattern, err)
	}

	var body string
	if err := s.run(ctx, chromedp.Text("body", &body, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("failed to read page text: %w", err)
	}

	match := re.FindString(body)
	return match, match != "", nil
}

// TextContent returns the trimmed text of the element matching the selector.
// Accepts both CSS selectors and XPath expressions.
func (s *Session) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.BySearch)); err != nil {
		return "", fmt.Errorf("failed to read text of %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// CaptureScreenshot writes a numbered full-page screenshot into the
// configured directory. Screenshots are diagnostics only; failures are
// reported but runs proceed without them.
func (s *Session) CaptureScreenshot(ctx context.Context, label string) error {
	s.mu.Lock()
	s.screenshotCount++
	count := s.screenshotCount
	s.mu.Unlock()

	timestamp := time.Now().In(schemas.ReportTimeZone).Format("150405")
	filename := fmt.Sprintf("step_%02d_%s_%s.png", count, timestamp, label)
	path := filepath.Join(s.cfg.Browser.ScreenshotDir, filename)

	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("failed to capture screenshot %q: %w", label, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}

	s.logger.Info("Screenshot captured.", zap.String("path", path))
	return nil
}

// Close terminates the tab. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.logger.Info("Closing browser session.")
	s.sessionCancel()
}

// xpathLiteral quotes a string for embedding in an XPath expression. XPath
// 1.0 has no escape sequence, so strings containing both quote kinds need
// concat().
func xpathLiteral(v string) string {
	if !strings.Contains(v, `'`) {
		return "'" + v + "'"
	}
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	parts := strings.Split(v, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
