// flowcheck drives a headless browser through an application's sign-in flow
// and exits with a status describing the outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/flowcheck/internal/artifacts"
	"github.com/kuitang/flowcheck/internal/browser"
	"github.com/kuitang/flowcheck/internal/config"
	"github.com/kuitang/flowcheck/internal/email"
	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/flow"
	"github.com/kuitang/flowcheck/internal/obs"
	"github.com/kuitang/flowcheck/internal/ratelimit"
	"github.com/kuitang/flowcheck/internal/report"
	"github.com/kuitang/flowcheck/internal/s3client"
	"github.com/kuitang/flowcheck/internal/seed"
)

// exitConfig is returned for flag and configuration errors.
const exitConfig = 2

// mirrorPrefix is the object key prefix for mirrored artifacts.
const mirrorPrefix = "flowcheck"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags("flowcheck", args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "flowcheck: %v\n", err)
		return exitConfig
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "flowcheck: %v\n", err)
		return exitConfig
	}

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary(stderr)

	a, err := newApp(ctx, cfg, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "flowcheck: %v\n", err)
		return errs.ExitStatus(errs.CodeOf(err))
	}
	return a.execute(ctx)
}

// app holds the wired components of one invocation.
type app struct {
	cfg         *config.Config
	launcher    flow.Launcher
	screenshots *artifacts.Store
	reports     *artifacts.Store
	mailer      email.EmailService // nil when alerts are off
	pacer       flow.Pacer
	stdout      io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, stdout io.Writer) (*app, error) {
	var storeOpts []artifacts.Option
	if cfg.S3Enabled() {
		client, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "configure s3 mirror", err)
		}
		storeOpts = append(storeOpts, artifacts.WithMirror(client, mirrorPrefix))
	}

	a := &app{
		cfg: cfg,
		launcher: browser.NewLauncher(browser.Options{
			Browser:       cfg.Browser,
			Headless:      cfg.Headless,
			Install:       cfg.InstallBrowsers,
			ActionTimeout: cfg.ActionTimeout,
		}),
		screenshots: artifacts.NewStore(cfg.ScreenshotDir, storeOpts...),
		reports:     artifacts.NewStore(cfg.ReportDir, storeOpts...),
		pacer:       ratelimit.NewPacer(cfg.Interval),
		stdout:      stdout,
	}

	if cfg.AlertsEnabled() {
		if cfg.NoEmail {
			a.mailer = email.NewMockEmailService()
		} else {
			a.mailer = email.NewResendEmailService(cfg.ResendAPIKey, cfg.ResendFromEmail)
		}
	}
	return a, nil
}

// execute seeds, runs the flow, writes the report, alerts on failure, and
// returns the process exit status.
func (a *app) execute(ctx context.Context) int {
	log := obs.Pkg("main")

	if a.cfg.SeedURL != "" {
		if _, err := seed.Seed(ctx, nil, a.cfg.SeedURL); err != nil {
			fmt.Fprintf(a.stdout, "Error: seed failed: %v\n", err)
			log.Error("seed_failed", "url", a.cfg.SeedURL, "error", err)
			return flow.OutcomeBrowserError.ExitStatus()
		}
	}

	v := flow.New(a.launcher, a.screenshots, flow.OptionsFromConfig(a.cfg), a.stdout)
	results := flow.RunRepeated(ctx, v, a.cfg.Repeat, a.pacer, func(res *flow.Result) {
		log.Info("run_finished", "run_id", res.RunID, "attempt", res.Attempt, "outcome", res.Outcome, "duration_ms", res.Duration().Milliseconds())
	})

	rep := report.New(a.cfg.DashboardURL(), results, time.Now())
	reportCtx := ctx
	if last := deciding(results); last != nil {
		reportCtx = obs.WithRun(ctx, last.RunID, last.Attempt)
	}
	// The report survives an interrupted run.
	arts, err := report.Write(context.WithoutCancel(reportCtx), a.reports, rep)
	if err != nil {
		log.Error("report_failed", "error", err)
	}

	if rep.ExitStatus != 0 {
		a.alert(rep, results, arts)
	}
	return rep.ExitStatus
}

// alert sends one failure email describing the run that decided the exit status.
func (a *app) alert(rep report.Report, results []*flow.Result, arts []artifacts.Artifact) {
	if a.mailer == nil {
		return
	}
	data := email.FlowFailedData{
		Target:  rep.Target,
		Outcome: string(rep.Outcome),
	}
	if res := deciding(results); res != nil {
		data.RunID = res.RunID
		data.FailedStep = res.FailedStep
		data.Error = res.Error
		data.FinalURL = res.FinalURL
		if shot, ok := res.Screenshot(flow.ErrorScreenshot); ok {
			data.Screenshot = artifactLocation(shot)
		}
	}
	for _, art := range arts {
		if art.Name == report.HTMLName {
			data.ReportURL = artifactLocation(art)
		}
	}

	if err := a.mailer.Send(a.cfg.AlertEmail, email.TemplateFlowFailed, data); err != nil {
		obs.Pkg("main").Error("alert_failed", "to", a.cfg.AlertEmail, "error", err)
	}
}

// deciding returns the last failed result, else the last result.
func deciding(results []*flow.Result) *flow.Result {
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].Outcome.Succeeded() {
			return results[i]
		}
	}
	if len(results) > 0 {
		return results[len(results)-1]
	}
	return nil
}

func artifactLocation(a artifacts.Artifact) string {
	if a.URL != "" {
		return a.URL
	}
	return a.Path
}
