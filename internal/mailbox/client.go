// internal/mailbox/client.go
// Description: Mailbox capture service client. The inbox sits behind the
// Mailtrap REST API; this client narrows it to the MailboxReader capability
// the verification retriever consumes.
package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/config"
)

// Ensure Client implements the capability interface.
var _ schemas.MailboxReader = (*Client)(nil)

const requestTimeout = 15 * time.Second

// Client talks to the inbox capture API for a single account/inbox pair.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger

	baseURL   string
	apiToken  string
	accountID string
	inboxID   string

	// limiter keeps polling polite; the API rate-limits aggressively.
	limiter *rate.Limiter
}

// NewClient builds a client from the mailbox configuration section.
func NewClient(cfg config.MailboxConfig, logger *zap.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.Named("mailbox"),
		baseURL:    cfg.BaseURL,
		apiToken:   cfg.APIToken,
		accountID:  cfg.AccountID,
		inboxID:    cfg.InboxID,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// messagesURL is the inbox listing endpoint.
func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/api/accounts/%s/inboxes/%s/messages", c.baseURL, c.accountID, c.inboxID)
}

// apiMessage mirrors the envelope fields of the listing payload.
type apiMessage struct {
	ID      int64     `json:"id"`
	Subject string    `json:"subject"`
	SentAt  time.Time `json:"sent_at"`
}

// ListMessages returns the inbox envelopes. The API guarantees
// reverse-chronological order, which the selection rule upstream relies on.
func (c *Client) ListMessages(ctx context.Context) ([]schemas.MailMessage, error) {
	body, err := c.get(ctx, c.messagesURL())
	if err != nil {
		return nil, err
	}

	var raw []apiMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode message list: %w", err)
	}

	messages := make([]schemas.MailMessage, 0, len(raw))
	for _, m := range raw {
		messages = append(messages, schemas.MailMessage{
			ID:      m.ID,
			Subject: m.Subject,
			SentAt:  m.SentAt,
		})
	}
	c.logger.Debug("Listed inbox messages.", zap.Int("count", len(messages)))
	return messages, nil
}

// FetchPlainTextBody retrieves the text rendering of one message.
func (c *Client) FetchPlainTextBody(ctx context.Context, id int64) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%d/body.txt", c.messagesURL(), id))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// get performs one authenticated, rate-limited GET.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter interrupted: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Token", c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailbox API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain for connection reuse.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mailbox API returned status %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox API response: %w", err)
	}
	return data, nil
}
