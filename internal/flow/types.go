// Package flow runs the sign-in smoke flow: visit the dashboard signed out,
// observe the redirect to sign-in, submit credentials, and confirm the
// authenticated dashboard renders.
package flow

import (
	"context"
	"time"

	"github.com/kuitang/flowcheck/internal/artifacts"
)

// Launcher starts a browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is an owned browser process. Close must release it.
type Session interface {
	NewPage() (Page, error)
	Close() error
}

// Page is a single navigable document inside a Session.
// Wait methods return an error coded errs.Timeout when the bound expires.
type Page interface {
	Goto(url string) error
	WaitForURL(pattern string, timeout time.Duration) error
	URL() string
	Content() (string, error)
	Fill(selector, value string) error
	Click(selector string) error
	WaitForText(text string, timeout time.Duration) error
	Screenshot() ([]byte, error)
}

// ArtifactStore persists screenshots. *artifacts.Store satisfies it.
type ArtifactStore interface {
	Save(ctx context.Context, label, name string, data []byte) (artifacts.Artifact, error)
}

// Outcome is the closed set of run results.
type Outcome string

const (
	OutcomeSucceeded                Outcome = "succeeded"
	OutcomeRedirectTimedOut         Outcome = "redirect_timed_out"
	OutcomeLoginFailed              Outcome = "login_failed"
	OutcomePostLoginAssertionFailed Outcome = "post_login_assertion_failed"
	OutcomeBrowserError             Outcome = "browser_error"
)

// ExitStatus maps the outcome to a process exit status.
func (o Outcome) ExitStatus() int {
	switch o {
	case OutcomeSucceeded:
		return 0
	case OutcomeRedirectTimedOut:
		return 3
	case OutcomeLoginFailed:
		return 4
	case OutcomePostLoginAssertionFailed:
		return 5
	default:
		return 6
	}
}

// Succeeded reports whether the run passed.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSucceeded
}

// Observation records what the unauthenticated dashboard visit showed.
type Observation string

const (
	ObservationNone         Observation = ""
	ObservationRedirected   Observation = "redirected"
	ObservationStuckLoading Observation = "stuck_loading"
	ObservationUnknownState Observation = "unknown_state"
)

// Step names, in flow order.
const (
	StepLaunch              = "launch"
	StepOpenPage            = "open_page"
	StepNavigate            = "navigate_dashboard"
	StepAwaitSignIn         = "await_signin_redirect"
	StepSignInScreenshot    = "screenshot_signin"
	StepFillEmail           = "fill_email"
	StepFillPassword        = "fill_password"
	StepSubmit              = "submit"
	StepAwaitDashboard      = "await_dashboard"
	StepAwaitWelcome        = "await_welcome_marker"
	StepDashboardScreenshot = "screenshot_dashboard"
)

// Screenshot file names and labels.
const (
	SignInScreenshot    = "signin_page.png"
	DashboardScreenshot = "dashboard.png"
	ErrorScreenshot     = "error.png"

	SignInLabel    = "sign-in state"
	DashboardLabel = "dashboard state"
	ErrorLabel     = "error state"
)

// Step status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// StepRecord is one executed step.
type StepRecord struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Detail    string        `json:"detail,omitempty"`
}

// Result is the outcome of one run.
type Result struct {
	RunID       string               `json:"run_id"`
	Attempt     int                  `json:"attempt"`
	Outcome     Outcome              `json:"outcome"`
	Observation Observation          `json:"observation,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	FinalURL    string               `json:"final_url,omitempty"`
	FailedStep  string               `json:"failed_step,omitempty"`
	Error       string               `json:"error,omitempty"`
	Steps       []StepRecord         `json:"steps"`
	Screenshots []artifacts.Artifact `json:"screenshots"`
	Closed      bool                 `json:"browser_closed"`
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitStatus returns the process exit status for the run.
func (r *Result) ExitStatus() int {
	return r.Outcome.ExitStatus()
}

// Screenshot returns the artifact with the given file name.
func (r *Result) Screenshot(name string) (artifacts.Artifact, bool) {
	for _, a := range r.Screenshots {
		if a.Name == name {
			return a, true
		}
	}
	return artifacts.Artifact{}, false
}
