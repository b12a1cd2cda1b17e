package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/flowcheck/internal/artifacts"
	"github.com/kuitang/flowcheck/internal/flow"
	"github.com/kuitang/flowcheck/internal/obs"
	"github.com/kuitang/flowcheck/internal/s3client"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func succeeded(attempt int) *flow.Result {
	return &flow.Result{
		RunID:       "run-ok",
		Attempt:     attempt,
		Outcome:     flow.OutcomeSucceeded,
		Observation: flow.ObservationRedirected,
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
		FinalURL:    "http://app.test/dashboard",
		Steps: []flow.StepRecord{
			{Name: flow.StepNavigate, Status: flow.StatusOK, Duration: 150 * time.Millisecond},
			{Name: flow.StepAwaitSignIn, Status: flow.StatusOK, Duration: 20 * time.Millisecond},
		},
		Screenshots: []artifacts.Artifact{
			{Label: flow.SignInLabel, Name: flow.SignInScreenshot, Path: "verification/signin_page.png", Bytes: 10},
			{Label: flow.DashboardLabel, Name: flow.DashboardScreenshot, Path: "verification/dashboard.png", URL: "https://cdn.test/runs/run-ok/dashboard.png", Bytes: 10},
		},
		Closed: true,
	}
}

func failed(attempt int, outcome flow.Outcome, msg string) *flow.Result {
	return &flow.Result{
		RunID:      "run-bad",
		Attempt:    attempt,
		Outcome:    outcome,
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Second),
		FinalURL:   "http://app.test/auth/signin",
		FailedStep: flow.StepAwaitDashboard,
		Error:      msg,
		Steps: []flow.StepRecord{
			{Name: flow.StepAwaitDashboard, Status: flow.StatusFailed, Detail: msg},
		},
		Closed: true,
	}
}

func TestNew_OutcomeAndExitStatus(t *testing.T) {
	r := New("http://app.test/dashboard", []*flow.Result{succeeded(1)}, start)
	require.Equal(t, flow.OutcomeSucceeded, r.Outcome)
	require.Equal(t, 0, r.ExitStatus)

	r = New("http://app.test/dashboard", []*flow.Result{
		failed(1, flow.OutcomeLoginFailed, "timeout"),
		succeeded(2),
	}, start)
	require.Equal(t, flow.OutcomeLoginFailed, r.Outcome)
	require.Equal(t, 4, r.ExitStatus)

	r = New("http://app.test/dashboard", nil, start)
	require.Equal(t, flow.OutcomeBrowserError, r.Outcome)
	require.Equal(t, 6, r.ExitStatus)
	require.NotNil(t, r.Runs)
}

func TestWrite_JSONAndHTML(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(&bytes.Buffer{}))
	dir := t.TempDir()
	store := artifacts.NewStore(dir)

	r := New("http://app.test/dashboard", []*flow.Result{succeeded(1)}, start)
	arts, err := Write(context.Background(), store, r)
	require.NoError(t, err)
	require.Len(t, arts, 2)

	raw, err := os.ReadFile(filepath.Join(dir, JSONName))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.EqualValues(t, 0, decoded["exit_status"])
	require.Equal(t, "succeeded", decoded["outcome"])
	runs := decoded["runs"].([]any)
	require.Len(t, runs, 1)
	require.Equal(t, "redirected", runs[0].(map[string]any)["observation"])

	page, err := os.ReadFile(filepath.Join(dir, HTMLName))
	require.NoError(t, err)
	html := string(page)
	require.Contains(t, html, "<title>flowcheck: succeeded</title>")
	require.Contains(t, html, "<table>")
	require.Contains(t, html, "navigate_dashboard")
	require.Contains(t, html, `href="https://cdn.test/runs/run-ok/dashboard.png"`)
	require.Contains(t, html, "verification/signin_page.png")
}

func TestWrite_MirrorsToS3(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(&bytes.Buffer{}))
	client := s3client.TestClient(t, "reports")
	store := artifacts.NewStore(t.TempDir(), artifacts.WithMirror(client, "flowcheck"))

	ctx := obs.WithRun(context.Background(), "run-bad", 1)
	arts, err := Write(ctx, store, New("http://app.test/dashboard", []*flow.Result{failed(1, flow.OutcomeLoginFailed, "timeout")}, start))
	require.NoError(t, err)
	require.NotEmpty(t, arts[0].URL)

	data, err := client.GetObject(context.Background(), "flowcheck/run-bad/"+JSONName)
	require.NoError(t, err)
	require.Contains(t, string(data), `"exit_status": 4`)
}

func TestHTML_EscapesErrorText(t *testing.T) {
	msg := `<script>alert("x")</script> [click](javascript:alert(1)) | *bold*`
	r := New("http://app.test/dashboard", []*flow.Result{failed(1, flow.OutcomePostLoginAssertionFailed, msg)}, start)

	page := string(RenderHTML(Markdown(r), "t"))
	require.NotContains(t, page, "<script>")
	require.NotContains(t, page, `href="javascript`)
	require.NotContains(t, page, "<strong>bold</strong>")
	require.Contains(t, page, "&lt;script&gt;")
}

func testMarkdown_OneSectionPerRun(t *rapid.T) {
	n := rapid.IntRange(0, 6).Draw(t, "runs")
	var results []*flow.Result
	for i := 1; i <= n; i++ {
		if rapid.Bool().Draw(t, "ok") {
			results = append(results, succeeded(i))
		} else {
			msg := rapid.String().Draw(t, "error")
			results = append(results, failed(i, flow.OutcomeLoginFailed, msg))
		}
	}
	md := Markdown(New("http://app.test/dashboard", results, start))

	headings := 0
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "## Run ") {
			headings++
		}
	}
	if headings != n {
		t.Fatalf("expected %d run sections, got %d", n, headings)
	}
}

func TestMarkdown_OneSectionPerRun(t *testing.T) {
	rapid.Check(t, testMarkdown_OneSectionPerRun)
}
