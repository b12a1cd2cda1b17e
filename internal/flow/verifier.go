package flow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/flowcheck/internal/config"
	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/logutil"
	"github.com/kuitang/flowcheck/internal/obs"
)

// Options are the fixed literals of the flow.
type Options struct {
	DashboardURL     string
	SignInPattern    string
	DashboardPattern string

	Email    string
	Password string

	EmailSelector    string
	PasswordSelector string
	SubmitSelector   string

	LoadingMarker string
	WelcomeMarker string

	RedirectTimeout time.Duration
	LoginTimeout    time.Duration
	MarkerTimeout   time.Duration

	// StrictRedirect turns a missed sign-in redirect into OutcomeRedirectTimedOut
	// when the rest of the flow passes.
	StrictRedirect bool
}

// OptionsFromConfig builds flow options from validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DashboardURL:     cfg.DashboardURL(),
		SignInPattern:    cfg.SignInPattern,
		DashboardPattern: cfg.DashboardPattern,
		Email:            cfg.Email,
		Password:         cfg.Password,
		EmailSelector:    cfg.Selectors.Email,
		PasswordSelector: cfg.Selectors.Password,
		SubmitSelector:   cfg.Selectors.Submit,
		LoadingMarker:    cfg.LoadingMarker,
		WelcomeMarker:    cfg.WelcomeMarker,
		RedirectTimeout:  cfg.RedirectTimeout,
		LoginTimeout:     cfg.LoginTimeout,
		MarkerTimeout:    cfg.MarkerTimeout,
		StrictRedirect:   cfg.StrictRedirect,
	}
}

// Verifier executes the flow. A Verifier may be reused for sequential runs.
type Verifier struct {
	launcher Launcher
	store    ArtifactStore
	opts     Options
	console  io.Writer
	newRunID func() string
}

// New creates a Verifier. Human-readable progress lines go to console.
func New(launcher Launcher, store ArtifactStore, opts Options, console io.Writer) *Verifier {
	if console == nil {
		console = io.Discard
	}
	return &Verifier{
		launcher: launcher,
		store:    store,
		opts:     opts,
		console:  console,
		newRunID: uuid.NewString,
	}
}

// stepError carries the failing step and the outcome it maps to.
type stepError struct {
	step    string
	outcome Outcome
	err     error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// Run executes the flow once.
func (v *Verifier) Run(ctx context.Context) *Result {
	return v.RunAttempt(ctx, 1)
}

// RunAttempt executes the flow once, tagging logs and the result with attempt.
// It never panics or returns an error: every failure is recorded on the Result.
// The browser session, once launched, is closed exactly once.
func (v *Verifier) RunAttempt(ctx context.Context, attempt int) (res *Result) {
	res = &Result{
		RunID:     v.newRunID(),
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
	ctx = obs.WithRun(ctx, res.RunID, attempt)
	obs.From(ctx).Info("flow_started", "pkg", "flow", "target", v.opts.DashboardURL, "email", v.opts.Email)

	var (
		session Session
		page    Page
	)
	defer func() {
		if r := recover(); r != nil {
			v.recordFailure(ctx, page, res, &stepError{
				step:    currentStep(res),
				outcome: OutcomeBrowserError,
				err:     errs.New(errs.Internal, fmt.Sprintf("browser driver panic: %v", r)),
			})
		}
		v.release(ctx, session, res)
		v.finish(ctx, res)
	}()

	err := v.step(ctx, res, StepLaunch, func() error {
		var err error
		session, err = v.launcher.Launch(ctx)
		if err != nil {
			return &stepError{step: StepLaunch, outcome: OutcomeBrowserError, err: errs.Wrap(errs.Unavailable, "launch browser", err)}
		}
		return nil
	})
	if err != nil {
		v.recordFailure(ctx, nil, res, err)
		return res
	}

	err = v.step(ctx, res, StepOpenPage, func() error {
		var err error
		page, err = session.NewPage()
		if err != nil {
			return &stepError{step: StepOpenPage, outcome: OutcomeBrowserError, err: errs.Wrap(errs.Unavailable, "open page", err)}
		}
		return nil
	})
	if err != nil {
		v.recordFailure(ctx, nil, res, err)
		return res
	}

	if err := v.runSteps(ctx, page, res); err != nil {
		v.recordFailure(ctx, page, res, err)
		return res
	}

	res.FinalURL = page.URL()
	if v.opts.StrictRedirect && res.Observation != ObservationRedirected {
		res.Outcome = OutcomeRedirectTimedOut
		res.Error = fmt.Sprintf("sign-in redirect not observed within %s (%s)", v.opts.RedirectTimeout, res.Observation)
		v.printf("Redirect check failed: %s", res.Error)
		return res
	}
	res.Outcome = OutcomeSucceeded
	return res
}

func (v *Verifier) runSteps(ctx context.Context, page Page, res *Result) error {
	opts := v.opts

	err := v.step(ctx, res, StepNavigate, func() error {
		v.println("Navigating to dashboard...")
		if err := page.Goto(opts.DashboardURL); err != nil {
			return &stepError{step: StepNavigate, outcome: OutcomeBrowserError, err: errs.Wrap(errs.Unavailable, "navigate to "+opts.DashboardURL, err)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := v.step(ctx, res, StepAwaitSignIn, func() error {
		v.observeRedirect(ctx, page, res)
		return nil
	}); err != nil {
		return err
	}

	if err := v.step(ctx, res, StepSignInScreenshot, func() error {
		return v.capture(ctx, page, res, StepSignInScreenshot, SignInLabel, SignInScreenshot)
	}); err != nil {
		return err
	}

	v.println("Attempting Sign In...")
	if err := v.step(ctx, res, StepFillEmail, func() error {
		return loginAction(StepFillEmail, "fill "+opts.EmailSelector, page.Fill(opts.EmailSelector, opts.Email))
	}); err != nil {
		return err
	}
	if err := v.step(ctx, res, StepFillPassword, func() error {
		return loginAction(StepFillPassword, "fill "+opts.PasswordSelector, page.Fill(opts.PasswordSelector, opts.Password))
	}); err != nil {
		return err
	}
	if err := v.step(ctx, res, StepSubmit, func() error {
		return loginAction(StepSubmit, "click "+opts.SubmitSelector, page.Click(opts.SubmitSelector))
	}); err != nil {
		return err
	}

	v.println("Waiting for Dashboard redirect...")
	if err := v.step(ctx, res, StepAwaitDashboard, func() error {
		if err := page.WaitForURL(opts.DashboardPattern, opts.LoginTimeout); err != nil {
			return &stepError{step: StepAwaitDashboard, outcome: OutcomeLoginFailed, err: errs.Wrap(errs.CodeOf(err), fmt.Sprintf("wait for URL %s", opts.DashboardPattern), err)}
		}
		return nil
	}); err != nil {
		return err
	}
	v.println("Logged in and on Dashboard.")

	if err := v.step(ctx, res, StepAwaitWelcome, func() error {
		if err := page.WaitForText(opts.WelcomeMarker, opts.MarkerTimeout); err != nil {
			return &stepError{step: StepAwaitWelcome, outcome: OutcomePostLoginAssertionFailed, err: errs.Wrap(errs.AssertionFailed, fmt.Sprintf("wait for text %q", opts.WelcomeMarker), err)}
		}
		return nil
	}); err != nil {
		return err
	}

	return v.step(ctx, res, StepDashboardScreenshot, func() error {
		return v.capture(ctx, page, res, StepDashboardScreenshot, DashboardLabel, DashboardScreenshot)
	})
}

// observeRedirect is the non-fatal redirect check. It always lets the flow continue.
func (v *Verifier) observeRedirect(ctx context.Context, page Page, res *Result) {
	err := page.WaitForURL(v.opts.SignInPattern, v.opts.RedirectTimeout)
	if err == nil {
		res.Observation = ObservationRedirected
		v.println("Redirected to Sign In page successfully.")
		return
	}
	obs.From(ctx).Info("signin_redirect_not_observed", "pkg", "flow", "error", err)

	current := page.URL()
	v.printf("Current URL: %s", current)

	content, err := page.Content()
	if err != nil {
		obs.From(ctx).Warn("page_content_failed", "pkg", "flow", "error", err)
	}
	if err == nil && v.opts.LoadingMarker != "" && strings.Contains(content, v.opts.LoadingMarker) {
		res.Observation = ObservationStuckLoading
		v.println("Stuck on Loading...")
	} else {
		res.Observation = ObservationUnknownState
		v.println("Unknown state.")
		obs.From(ctx).Debug("page_content_preview", "pkg", "flow", "content", logutil.TruncateForLog(content, 200))
	}

	last := &res.Steps[len(res.Steps)-1]
	last.Status = StatusDegraded
	last.Detail = fmt.Sprintf("%s at %s", res.Observation, current)
}

func (v *Verifier) capture(ctx context.Context, page Page, res *Result, step, label, name string) error {
	data, err := page.Screenshot()
	if err != nil {
		return &stepError{step: step, outcome: OutcomeBrowserError, err: errs.Wrap(errs.Unavailable, "screenshot "+label, err)}
	}
	art, err := v.store.Save(ctx, label, name, data)
	if err != nil {
		return &stepError{step: step, outcome: OutcomeBrowserError, err: err}
	}
	res.Screenshots = append(res.Screenshots, art)
	return nil
}

// step runs fn as a named step, checking ctx first and recording timing.
func (v *Verifier) step(ctx context.Context, res *Result, name string, fn func() error) error {
	res.Steps = append(res.Steps, StepRecord{Name: name, Status: StatusOK, StartedAt: time.Now()})
	idx := len(res.Steps) - 1
	log := obs.From(obs.WithStep(ctx, name)).With("pkg", "flow")

	var err error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = &stepError{step: name, outcome: OutcomeBrowserError, err: errs.Wrap(errs.CodeOf(ctxErr), "run interrupted", ctxErr)}
	} else {
		err = fn()
	}

	rec := &res.Steps[idx]
	rec.Duration = time.Since(rec.StartedAt)
	if err != nil {
		rec.Status = StatusFailed
		rec.Detail = err.Error()
		log.Warn("step_failed", "dur_ms", rec.Duration.Milliseconds(), "error", err)
		return err
	}
	log.Debug("step_completed", "status", rec.Status, "dur_ms", rec.Duration.Milliseconds())
	return nil
}

// recordFailure is the single catch-all: error screenshot, console line, outcome.
func (v *Verifier) recordFailure(ctx context.Context, page Page, res *Result, err error) {
	se, ok := err.(*stepError)
	if !ok {
		se = &stepError{step: currentStep(res), outcome: OutcomeBrowserError, err: err}
	}
	res.Outcome = se.outcome
	res.FailedStep = se.step
	res.Error = se.err.Error()

	v.printf("Error: %s", res.Error)

	if page == nil {
		return
	}
	res.FinalURL = page.URL()
	data, shotErr := guardedScreenshot(page)
	if shotErr != nil {
		obs.From(ctx).Warn("error_screenshot_failed", "pkg", "flow", "error", shotErr)
		return
	}
	art, saveErr := v.store.Save(ctx, ErrorLabel, ErrorScreenshot, data)
	if saveErr != nil {
		obs.From(ctx).Warn("error_screenshot_save_failed", "pkg", "flow", "error", saveErr)
		return
	}
	res.Screenshots = append(res.Screenshots, art)
}

// guardedScreenshot keeps a crashing driver from escaping the failure path.
func guardedScreenshot(page Page) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("screenshot panic: %v", r)
		}
	}()
	return page.Screenshot()
}

func (v *Verifier) release(ctx context.Context, session Session, res *Result) {
	if session == nil || res.Closed {
		return
	}
	res.Closed = true
	if err := session.Close(); err != nil {
		obs.From(ctx).Warn("browser_close_failed", "pkg", "flow", "error", err)
	}
}

func (v *Verifier) finish(ctx context.Context, res *Result) {
	res.FinishedAt = time.Now()
	attrs := []any{
		"pkg", "flow",
		"outcome", string(res.Outcome),
		"observation", string(res.Observation),
		"dur_ms", res.Duration().Milliseconds(),
		"screenshots", len(res.Screenshots),
	}
	if res.Outcome.Succeeded() {
		obs.From(ctx).Info("flow_finished", attrs...)
		return
	}
	attrs = append(attrs, "failed_step", res.FailedStep, "error", res.Error)
	obs.From(ctx).Warn("flow_finished", attrs...)
}

func (v *Verifier) println(line string) {
	fmt.Fprintln(v.console, line)
}

func (v *Verifier) printf(format string, args ...any) {
	fmt.Fprintf(v.console, format+"\n", args...)
}

func loginAction(step, what string, err error) error {
	if err == nil {
		return nil
	}
	return &stepError{step: step, outcome: OutcomeLoginFailed, err: errs.Wrap(errs.CodeOf(err), what, err)}
}

func currentStep(res *Result) string {
	if len(res.Steps) == 0 {
		return ""
	}
	return res.Steps[len(res.Steps)-1].Name
}
