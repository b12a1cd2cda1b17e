package flow

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/flowcheck/internal/artifacts"
	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/obs"
)

func testOptions(base string) Options {
	return Options{
		DashboardURL:     base + "/dashboard",
		SignInPattern:    "**/auth/signin**",
		DashboardPattern: "**/dashboard",
		Email:            "testuser@example.com",
		Password:         "password123",
		EmailSelector:    "input[type='email']",
		PasswordSelector: "input[type='password']",
		SubmitSelector:   "button[type='submit']",
		LoadingMarker:    "Loading...",
		WelcomeMarker:    "Welcome back",
		RedirectTimeout:  5 * time.Second,
		LoginTimeout:     10 * time.Second,
		MarkerTimeout:    10 * time.Second,
	}
}

type harness struct {
	launcher *fakeLauncher
	dir      string
	console  *bytes.Buffer
	verifier *Verifier
}

func newHarness(t *testing.T, app *fakeApp, mutate ...func(*Options)) *harness {
	t.Helper()
	t.Cleanup(obs.SetOutputForTests(&bytes.Buffer{}))

	launcher := newFakeLauncher(app)
	opts := testOptions(app.base)
	for _, m := range mutate {
		m(&opts)
	}
	dir := filepath.Join(t.TempDir(), "verification")
	console := &bytes.Buffer{}
	return &harness{
		launcher: launcher,
		dir:      dir,
		console:  console,
		verifier: New(launcher, artifacts.NewStore(dir), opts, console),
	}
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (h *harness) lines() []string {
	return strings.Split(strings.TrimRight(h.console.String(), "\n"), "\n")
}

func TestVerifier_HappyPathServerRedirect(t *testing.T) {
	h := newHarness(t, &fakeApp{})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, 0, res.ExitStatus())
	require.Equal(t, ObservationRedirected, res.Observation)
	require.Empty(t, res.Error)
	require.Empty(t, res.FailedStep)
	require.Equal(t, "http://app.test/dashboard", res.FinalURL)
	require.NotEmpty(t, res.RunID)
	require.True(t, res.Closed)
	require.Equal(t, []int{1}, h.launcher.closeCounts())

	require.Equal(t, []string{
		"Navigating to dashboard...",
		"Redirected to Sign In page successfully.",
		"Attempting Sign In...",
		"Waiting for Dashboard redirect...",
		"Logged in and on Dashboard.",
	}, h.lines())

	require.ElementsMatch(t, []string{SignInScreenshot, DashboardScreenshot}, h.files(t))
	signin, ok := res.Screenshot(SignInScreenshot)
	require.True(t, ok)
	require.Equal(t, SignInLabel, signin.Label)
	data, err := os.ReadFile(signin.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "/auth/signin")

	dash, ok := res.Screenshot(DashboardScreenshot)
	require.True(t, ok)
	data, err = os.ReadFile(dash.Path)
	require.NoError(t, err)
	require.Equal(t, "png:http://app.test/dashboard", string(data))

	names := make([]string, 0, len(res.Steps))
	for _, s := range res.Steps {
		require.Equal(t, StatusOK, s.Status, s.Name)
		names = append(names, s.Name)
	}
	require.Equal(t, []string{
		StepLaunch, StepOpenPage, StepNavigate, StepAwaitSignIn, StepSignInScreenshot,
		StepFillEmail, StepFillPassword, StepSubmit, StepAwaitDashboard, StepAwaitWelcome,
		StepDashboardScreenshot,
	}, names)
}

func TestVerifier_StuckLoadingContinues(t *testing.T) {
	h := newHarness(t, &fakeApp{clientRedirect: true})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, ObservationStuckLoading, res.Observation)
	require.Equal(t, []string{
		"Navigating to dashboard...",
		"Current URL: http://app.test/dashboard",
		"Stuck on Loading...",
		"Attempting Sign In...",
		"Waiting for Dashboard redirect...",
		"Logged in and on Dashboard.",
	}, h.lines())

	// The sign-in screenshot shows whatever was on screen.
	signin, ok := res.Screenshot(SignInScreenshot)
	require.True(t, ok)
	data, err := os.ReadFile(signin.Path)
	require.NoError(t, err)
	require.Equal(t, "png:http://app.test/dashboard", string(data))

	var awaited StepRecord
	for _, s := range res.Steps {
		if s.Name == StepAwaitSignIn {
			awaited = s
		}
	}
	require.Equal(t, StatusDegraded, awaited.Status)
	require.Contains(t, awaited.Detail, "stuck_loading")
}

func TestVerifier_UnknownStateContinues(t *testing.T) {
	h := newHarness(t, &fakeApp{blankPage: true})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, ObservationUnknownState, res.Observation)
	require.Contains(t, h.lines(), "Unknown state.")
	require.NotContains(t, h.lines(), "Stuck on Loading...")
}

func TestVerifier_ContentFailureIsUnknownState(t *testing.T) {
	h := newHarness(t, &fakeApp{clientRedirect: true, contentErr: errDriver})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeSucceeded, res.Outcome)
	require.Equal(t, ObservationUnknownState, res.Observation)
}

func TestVerifier_StrictRedirect(t *testing.T) {
	h := newHarness(t, &fakeApp{clientRedirect: true}, func(o *Options) { o.StrictRedirect = true })

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeRedirectTimedOut, res.Outcome)
	require.Equal(t, 3, res.ExitStatus())
	require.Contains(t, res.Error, "stuck_loading")
	require.True(t, res.Closed)
	// The rest of the flow still ran.
	require.ElementsMatch(t, []string{SignInScreenshot, DashboardScreenshot}, h.files(t))
}

func TestVerifier_StrictRedirectPassesWhenRedirected(t *testing.T) {
	h := newHarness(t, &fakeApp{}, func(o *Options) { o.StrictRedirect = true })

	res := h.verifier.Run(context.Background())
	require.Equal(t, OutcomeSucceeded, res.Outcome)
}

func TestVerifier_BadCredentialsIsLoginFailed(t *testing.T) {
	h := newHarness(t, &fakeApp{badCredentials: true})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeLoginFailed, res.Outcome)
	require.Equal(t, 4, res.ExitStatus())
	require.Equal(t, StepAwaitDashboard, res.FailedStep)
	require.Contains(t, res.Error, "**/dashboard")
	require.Equal(t, "http://app.test/auth/signin", res.FinalURL)
	require.NotContains(t, h.lines(), "Logged in and on Dashboard.")
	require.Contains(t, h.lines(), "Error: "+res.Error)

	require.ElementsMatch(t, []string{SignInScreenshot, ErrorScreenshot}, h.files(t))
	_, ok := res.Screenshot(DashboardScreenshot)
	require.False(t, ok)
	errShot, ok := res.Screenshot(ErrorScreenshot)
	require.True(t, ok)
	require.Equal(t, ErrorLabel, errShot.Label)
	require.Equal(t, []int{1}, h.launcher.closeCounts())
}

func TestVerifier_FillFailureIsLoginFailed(t *testing.T) {
	h := newHarness(t, &fakeApp{fillErr: errs.Wrap(errs.Timeout, "locator timeout", errDriver)})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeLoginFailed, res.Outcome)
	require.Equal(t, StepFillEmail, res.FailedStep)
	require.Contains(t, res.Error, "fill input[type='email']")
	require.Contains(t, h.files(t), ErrorScreenshot)
	require.True(t, res.Closed)
}

func TestVerifier_MissingWelcomeIsAssertionFailure(t *testing.T) {
	h := newHarness(t, &fakeApp{noWelcome: true})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomePostLoginAssertionFailed, res.Outcome)
	require.Equal(t, 5, res.ExitStatus())
	require.Equal(t, StepAwaitWelcome, res.FailedStep)
	require.Contains(t, res.Error, `"Welcome back"`)
	// The URL check passed before the marker check failed.
	require.Contains(t, h.lines(), "Logged in and on Dashboard.")
	require.ElementsMatch(t, []string{SignInScreenshot, ErrorScreenshot}, h.files(t))
}

func TestVerifier_LaunchFailure(t *testing.T) {
	h := newHarness(t, &fakeApp{launchErr: errDriver})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeBrowserError, res.Outcome)
	require.Equal(t, 6, res.ExitStatus())
	require.Equal(t, StepLaunch, res.FailedStep)
	require.Contains(t, res.Error, "launch browser")
	require.False(t, res.Closed)
	require.Empty(t, h.files(t))
	require.Equal(t, []string{"Error: " + res.Error}, h.lines())
}

func TestVerifier_NewPageFailureClosesSession(t *testing.T) {
	h := newHarness(t, &fakeApp{newPageErr: errDriver})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeBrowserError, res.Outcome)
	require.Equal(t, StepOpenPage, res.FailedStep)
	require.True(t, res.Closed)
	require.Equal(t, []int{1}, h.launcher.closeCounts())
	require.Empty(t, h.files(t))
}

func TestVerifier_NavigationFailureIsBrowserError(t *testing.T) {
	h := newHarness(t, &fakeApp{gotoErr: errDriver})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeBrowserError, res.Outcome)
	require.Equal(t, StepNavigate, res.FailedStep)
	require.Contains(t, res.Error, "navigate to http://app.test/dashboard")
	require.Equal(t, []string{ErrorScreenshot}, h.files(t))
}

func TestVerifier_ScreenshotFailureIsBrowserError(t *testing.T) {
	h := newHarness(t, &fakeApp{screenshotErr: errDriver})

	res := h.verifier.Run(context.Background())

	require.Equal(t, OutcomeBrowserError, res.Outcome)
	require.Equal(t, StepSignInScreenshot, res.FailedStep)
	// The error screenshot is best effort and fails the same way.
	require.Empty(t, h.files(t))
	require.True(t, res.Closed)
}

func TestVerifier_CanceledContext(t *testing.T) {
	h := newHarness(t, &fakeApp{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.verifier.Run(ctx)

	require.Equal(t, OutcomeBrowserError, res.Outcome)
	require.Equal(t, StepLaunch, res.FailedStep)
	require.Contains(t, res.Error, "run interrupted")
	require.Equal(t, 0, h.launcher.launches)
}

func TestVerifier_PanicIsRecovered(t *testing.T) {
	for _, method := range []string{"Goto", "Click", "WaitForText", "Screenshot"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t, &fakeApp{panicOn: method})

			res := h.verifier.Run(context.Background())

			require.Equal(t, OutcomeBrowserError, res.Outcome)
			require.Contains(t, res.Error, "browser driver panic")
			require.NotEmpty(t, res.FailedStep)
			require.True(t, res.Closed)
			require.Equal(t, []int{1}, h.launcher.closeCounts())
			require.False(t, res.FinishedAt.IsZero())
		})
	}
}

func TestVerifier_ReuseGivesDistinctRunIDs(t *testing.T) {
	h := newHarness(t, &fakeApp{})

	first := h.verifier.Run(context.Background())
	second := h.verifier.RunAttempt(context.Background(), 2)

	require.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, 2, second.Attempt)
	require.Equal(t, []int{1, 1}, h.launcher.closeCounts())
}

// Property: whatever the app does, a launched session is closed exactly once,
// the outcome is in the closed set, and a failed run carries an error message.
func testVerifier_Invariants(t *rapid.T) {
	app := &fakeApp{
		clientRedirect: rapid.Bool().Draw(t, "clientRedirect"),
		badCredentials: rapid.Bool().Draw(t, "badCredentials"),
		noWelcome:      rapid.Bool().Draw(t, "noWelcome"),
	}
	if rapid.Bool().Draw(t, "fillFails") {
		app.fillErr = errDriver
	}
	if rapid.Bool().Draw(t, "newPageFails") {
		app.newPageErr = errDriver
	}
	app.panicOn = rapid.SampledFrom([]string{"", "", "Goto", "Fill", "Click", "Content"}).Draw(t, "panicOn")
	strict := rapid.Bool().Draw(t, "strict")

	launcher := newFakeLauncher(app)
	opts := testOptions(app.base)
	opts.StrictRedirect = strict
	dir, err := os.MkdirTemp("", "flowcheck-prop-")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	defer os.RemoveAll(dir)

	v := New(launcher, artifacts.NewStore(dir), opts, nil)
	res := v.Run(context.Background())

	if got := launcher.closeCounts(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("close counts = %v, want [1]", got)
	}
	switch res.Outcome {
	case OutcomeSucceeded:
		if res.Error != "" || res.FailedStep != "" {
			t.Fatalf("succeeded run has error %q at %q", res.Error, res.FailedStep)
		}
		if _, ok := res.Screenshot(DashboardScreenshot); !ok {
			t.Fatalf("succeeded run missing dashboard screenshot")
		}
	case OutcomeRedirectTimedOut, OutcomeLoginFailed, OutcomePostLoginAssertionFailed, OutcomeBrowserError:
		if res.Error == "" {
			t.Fatalf("failed run %s has no error", res.Outcome)
		}
		if _, ok := res.Screenshot(DashboardScreenshot); ok && res.Outcome != OutcomeRedirectTimedOut {
			t.Fatalf("failed run %s has dashboard screenshot", res.Outcome)
		}
	default:
		t.Fatalf("unexpected outcome %q", res.Outcome)
	}
	if res.Outcome == OutcomeRedirectTimedOut && !strict {
		t.Fatalf("redirect timeout without strict mode")
	}
}

func TestVerifier_Invariants(t *testing.T) {
	t.Cleanup(obs.SetOutputForTests(&bytes.Buffer{}))
	rapid.Check(t, testVerifier_Invariants)
}
