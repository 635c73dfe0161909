// internal/renewal/engine_test.go
package renewal_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/xsrenew-cli/internal/config"
	"github.com/xkilldash9x/xsrenew-cli/internal/renewal"
)

// fakeDriver is a scripted Driver that records every call in order so tests
// can assert on sequencing, not just outcomes.
type fakeDriver struct {
	calls    []string
	pageText string
	location string
	content  map[string]string
	failOn   map[string]error
}

func (f *fakeDriver) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	return f.record("Navigate:" + url)
}

func (f *fakeDriver) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return f.record("WaitReady:" + selector)
}

func (f *fakeDriver) Fill(ctx context.Context, selector, value string) error {
	return f.record("Fill:" + selector)
}

func (f *fakeDriver) TypeWithPacing(ctx context.Context, selector, text string) error {
	return f.record("TypeWithPacing:" + selector)
}

func (f *fakeDriver) Click(ctx context.Context, selector string) error {
	return f.record("Click:" + selector)
}

func (f *fakeDriver) ClickByText(ctx context.Context, text string) error {
	return f.record("ClickByText:" + text)
}

func (f *fakeDriver) Location(ctx context.Context) (string, error) {
	if err := f.record("Location"); err != nil {
		return "", err
	}
	return f.location, nil
}

func (f *fakeDriver) LocateText(ctx context.Context, pattern string) (string, bool, error) {
	if err := f.record("LocateText"); err != nil {
		return "", false, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false, err
	}
	match := re.FindString(f.pageText)
	return match, match != "", nil
}

func (f *fakeDriver) TextContent(ctx context.Context, selector string) (string, error) {
	if err := f.record("TextContent:" + selector); err != nil {
		return "", err
	}
	return f.content[selector], nil
}

func (f *fakeDriver) CaptureScreenshot(ctx context.Context, label string) error {
	return f.record("Screenshot:" + label)
}

// indexOf returns the position of the first call with the given prefix, or -1.
func (f *fakeDriver) indexOf(prefix string) int {
	for i, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}

// mutatingCalls counts calls that change remote state.
func (f *fakeDriver) mutatingCalls() int {
	n := 0
	for _, c := range f.calls {
		switch {
		case c == "ClickByText:期限を延長する",
			c == "ClickByText:確認画面に進む":
			n++
		}
	}
	return n
}

func newEngine(driver *fakeDriver) *renewal.Engine {
	cfg := config.NewDefaultConfig()
	cfg.Panel.StepPause = 0
	return renewal.NewEngine(driver, cfg, zap.NewNop())
}

func TestReadCurrentExpiry_ParsesBanner(t *testing.T) {
	driver := &fakeDriver{
		pageText: "サーバー状態\n残り52時間13分 (2025-01-01まで)\nご利用中",
	}
	e := newEngine(driver)

	record, err := e.ReadCurrentExpiry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", record.Value)
	assert.True(t, record.IsSet())
	assert.Equal(t, 0, driver.indexOf("ClickByText:ゲーム管理"), "management navigation must happen first")
}

func TestReadCurrentExpiry_DateOnFollowingLine(t *testing.T) {
	driver := &fakeDriver{
		pageText: "サーバー状態\n残り52時間13分\n(2025-01-01まで)\nご利用中",
	}
	e := newEngine(driver)

	record, err := e.ReadCurrentExpiry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", record.Value)
}

func TestReadCurrentExpiry_BannerWithoutDate(t *testing.T) {
	driver := &fakeDriver{pageText: "残り52時間13分のご利用が可能です"}
	e := newEngine(driver)

	record, err := e.ReadCurrentExpiry(context.Background())
	require.NoError(t, err)
	assert.False(t, record.IsSet())
}

func TestReadCurrentExpiry_BannerAbsentIsNotAnError(t *testing.T) {
	driver := &fakeDriver{pageText: "サーバー状態のみ"}
	e := newEngine(driver)

	record, err := e.ReadCurrentExpiry(context.Background())
	require.NoError(t, err)
	assert.False(t, record.IsSet())
}

func TestReadCurrentExpiry_NavigationFailure(t *testing.T) {
	driver := &fakeDriver{
		failOn: map[string]error{"ClickByText:ゲーム管理": errors.New("element not found")},
	}
	e := newEngine(driver)

	_, err := e.ReadCurrentExpiry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not open management area")
}

func TestEvaluateWindow_ClosedMarkerBlocksRenewal(t *testing.T) {
	driver := &fakeDriver{
		pageText: "残り契約時間が24時間を切るまで期限を延長することはできません",
	}
	e := newEngine(driver)

	open, err := e.EvaluateWindow(context.Background())
	require.NoError(t, err)
	assert.False(t, open)

	// Navigating to the surface is allowed; nothing beyond it may run.
	assert.Equal(t, 0, driver.indexOf("ClickByText:アップグレード・期限延長"))
	assert.Equal(t, -1, driver.indexOf("ClickByText:期限を延長する"))
	assert.Equal(t, -1, driver.indexOf("ClickByText:確認画面に進む"))
}

func TestEvaluateWindow_Open(t *testing.T) {
	driver := &fakeDriver{pageText: "期限を延長する"}
	e := newEngine(driver)

	open, err := e.EvaluateWindow(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
}

func TestPerformRenewal_OrderedSequence(t *testing.T) {
	driver := &fakeDriver{
		location: "https://secure.xserver.ne.jp/xapanel/xmgame/server/freegame/extend/do",
		content: map[string]string{
			`//tr[th[contains(., '延長後の期限')]]/td`: "2025-01-04",
		},
	}
	e := newEngine(driver)

	record, err := e.PerformRenewal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-04", record.Value)

	initiate := driver.indexOf("ClickByText:期限を延長する")
	confirm := driver.indexOf("ClickByText:確認画面に進む")
	readBack := driver.indexOf("TextContent:")
	require.NotEqual(t, -1, initiate)
	require.NotEqual(t, -1, confirm)
	require.NotEqual(t, -1, readBack)
	assert.Less(t, initiate, confirm)
	assert.Less(t, confirm, readBack, "read-back must follow the confirmation step")

	// The final confirmation is a second 期限を延長する click after the read-back.
	finalConfirm := -1
	for i, c := range driver.calls {
		if c == "ClickByText:期限を延長する" && i > readBack {
			finalConfirm = i
			break
		}
	}
	require.NotEqual(t, -1, finalConfirm, "final confirm click missing")
	assert.Less(t, readBack, finalConfirm, "read-back must happen before the final confirm")
}

func TestPerformRenewal_ReadBackFailureStillReportsSequenceError(t *testing.T) {
	driver := &fakeDriver{
		failOn: map[string]error{
			"TextContent:" + `//tr[th[contains(., '延長後の期限')]]/td`: errors.New("node not found"),
		},
	}
	e := newEngine(driver)

	record, err := e.PerformRenewal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, renewal.ErrSequence)
	assert.False(t, record.IsSet())
}

func TestPerformRenewal_UnexpectedLandingPage(t *testing.T) {
	driver := &fakeDriver{
		location: "https://secure.xserver.ne.jp/xapanel/xmgame/index",
		content: map[string]string{
			`//tr[th[contains(., '延長後の期限')]]/td`: "2025-01-04",
		},
	}
	e := newEngine(driver)

	record, err := e.PerformRenewal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, renewal.ErrSequence)
	// The read-back already happened, so the value survives for the report.
	assert.Equal(t, "2025-01-04", record.Value)
}

func TestPerformRenewal_InitiateFailureStopsSequence(t *testing.T) {
	driver := &fakeDriver{
		failOn: map[string]error{"ClickByText:期限を延長する": errors.New("element not found")},
	}
	e := newEngine(driver)

	_, err := e.PerformRenewal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, renewal.ErrSequence)
	assert.Equal(t, 1, driver.mutatingCalls(), "no further mutating calls after the failed initiate")
}
