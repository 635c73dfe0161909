// internal/verify/retriever_test.go
package verify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/api/schemas"
	"github.com/xkilldash9x/xsrenew-cli/internal/verify"
)

// fakeReader is an in-memory MailboxReader whose contents can change between
// polls, simulating delayed mail delivery.
type fakeReader struct {
	mu       sync.Mutex
	messages []schemas.MailMessage
	bodies   map[int64]string
	listErr  error
	fetchErr error
	listens  int
}

func (f *fakeReader) ListMessages(ctx context.Context) ([]schemas.MailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.messages, nil
}

func (f *fakeReader) FetchPlainTextBody(ctx context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return f.bodies[id], nil
}

func (f *fakeReader) deliver(msg schemas.MailMessage, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Newest first, matching the reverse-chronological API guarantee.
	f.messages = append([]schemas.MailMessage{msg}, f.messages...)
	if f.bodies == nil {
		f.bodies = map[int64]string{}
	}
	f.bodies[msg.ID] = body
}

func newRetriever(t *testing.T, reader *fakeReader) *verify.Retriever {
	t.Helper()
	return verify.NewRetriever(reader, verify.Config{
		SettleDelay:  time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop())
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantOK   bool
	}{
		{
			name:     "full-width whitespace and separator",
			body:     "ご利用ありがとうございます。\n【認証コード】　：123456\n",
			wantCode: "123456",
			wantOK:   true,
		},
		{
			name:     "ascii colon with space",
			body:     "【認証コード】: 987654",
			wantCode: "987654",
			wantOK:   true,
		},
		{
			name:     "tight ascii colon",
			body:     "【認証コード】:4711",
			wantCode: "4711",
			wantOK:   true,
		},
		{
			name:   "too few digits",
			body:   "【認証コード】: 42",
			wantOK: false,
		},
		{
			name:   "missing marker",
			body:   "code: 123456",
			wantOK: false,
		},
		{
			name:   "empty body",
			body:   "",
			wantOK: false,
		},
		{
			name:     "digit run longer than eight is truncated to the first eight",
			body:     "【認証コード】: 1234567890",
			wantCode: "12345678",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := verify.ExtractCode(tt.body)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRetrieveCode_ImmediateMatch(t *testing.T) {
	reader := &fakeReader{}
	reader.deliver(schemas.MailMessage{ID: 1, Subject: "【重要】認証コードのお知らせ"}, "【認証コード】　：555123")

	r := newRetriever(t, reader)
	code, err := r.RetrieveCode(context.Background(), verify.Request{
		IssuedAt: time.Now(),
		Budget:   time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "555123", code)
}

func TestRetrieveCode_SelectsMostRecentMatch(t *testing.T) {
	reader := &fakeReader{}
	reader.deliver(schemas.MailMessage{ID: 1, Subject: "認証コード"}, "【認証コード】: 111111")
	reader.deliver(schemas.MailMessage{ID: 2, Subject: "お知らせ"}, "irrelevant")
	// Newest matching mail; appears before ID 1 in the listing.
	reader.deliver(schemas.MailMessage{ID: 3, Subject: "認証コード"}, "【認証コード】: 222222")

	r := newRetriever(t, reader)
	code, err := r.RetrieveCode(context.Background(), verify.Request{Budget: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "222222", code)
}

func TestRetrieveCode_PollsUntilDelivery(t *testing.T) {
	reader := &fakeReader{}
	r := newRetriever(t, reader)

	// Deliver the mail after the retriever has started polling an empty inbox.
	go func() {
		time.Sleep(20 * time.Millisecond)
		reader.deliver(schemas.MailMessage{ID: 7, Subject: "認証コード"}, "【認証コード】: 424242")
	}()

	code, err := r.RetrieveCode(context.Background(), verify.Request{Budget: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "424242", code)

	reader.mu.Lock()
	listens := reader.listens
	reader.mu.Unlock()
	assert.Greater(t, listens, 1, "should have polled more than once")
}

func TestRetrieveCode_BudgetExhausted(t *testing.T) {
	reader := &fakeReader{} // inbox stays empty
	r := newRetriever(t, reader)

	_, err := r.RetrieveCode(context.Background(), verify.Request{Budget: 30 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, verify.ErrBudgetExhausted)
}

func TestRetrieveCode_ListErrorIsRetriedNotFatal(t *testing.T) {
	reader := &fakeReader{listErr: errors.New("temporary API failure")}
	r := newRetriever(t, reader)

	_, err := r.RetrieveCode(context.Background(), verify.Request{Budget: 30 * time.Millisecond})
	// Network failure degrades into "not yet available" and eventually a
	// budget timeout, never a hard API error.
	assert.ErrorIs(t, err, verify.ErrBudgetExhausted)

	reader.mu.Lock()
	listens := reader.listens
	reader.mu.Unlock()
	assert.Greater(t, listens, 1)
}

func TestRetrieveCode_ExtractionMissIsRetried(t *testing.T) {
	reader := &fakeReader{}
	// Subject matches but the body has no extractable code.
	reader.deliver(schemas.MailMessage{ID: 1, Subject: "認証コード"}, "本文にコードがありません")

	r := newRetriever(t, reader)
	_, err := r.RetrieveCode(context.Background(), verify.Request{Budget: 30 * time.Millisecond})
	assert.ErrorIs(t, err, verify.ErrBudgetExhausted)
}

func TestRetrieveCode_ContextCancellation(t *testing.T) {
	reader := &fakeReader{}
	r := verify.NewRetriever(reader, verify.Config{
		SettleDelay:  time.Hour, // never finishes settling
		PollInterval: time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.RetrieveCode(ctx, verify.Request{Budget: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
