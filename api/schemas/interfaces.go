// api/schemas/interfaces.go
// Description: Capability interfaces consumed by the core sequencing logic.
// The browser and the inbox are external collaborators; everything the core
// needs from them is narrowed to these two contracts so stages stay testable
// with in-memory fakes.
package schemas

import (
	"context"
	"time"
)

// Driver is the browser automation capability. Every call is a suspension
// point and may fail with a driver error on timeout or tab detachment.
type Driver interface {
	// Navigate loads a URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the selector is visible or the timeout elapses.
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	// Fill replaces the value of an input wholesale.
	Fill(ctx context.Context, selector, value string) error
	// TypeWithPacing enters text with randomized keystroke delays.
	TypeWithPacing(ctx context.Context, selector, text string) error
	// Click dispatches a click on the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// ClickByText clicks the link or button whose visible label contains text.
	ClickByText(ctx context.Context, text string) error
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// LocateText searches the page text for a regexp pattern and returns the
	// first match, reporting whether one was found at all.
	LocateText(ctx context.Context, pattern string) (string, bool, error)
	// TextContent returns the trimmed text of the element matching the
	// selector (CSS or XPath).
	TextContent(ctx context.Context, selector string) (string, error)
	// CaptureScreenshot writes a numbered diagnostic screenshot.
	CaptureScreenshot(ctx context.Context, label string) error
}

// MailboxReader is the inbox capability. ListMessages is guaranteed to be
// ordered reverse-chronologically by the backing service.
type MailboxReader interface {
	ListMessages(ctx context.Context) ([]MailMessage, error)
	FetchPlainTextBody(ctx context.Context, id int64) (string, error)
}
