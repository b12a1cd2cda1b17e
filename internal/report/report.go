// Package report writes the machine-readable and human-readable summaries of
// one or more flow runs.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/flowcheck/internal/artifacts"
	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/flow"
	"github.com/kuitang/flowcheck/internal/obs"
)

// File names written by Write.
const (
	JSONName = "report.json"
	HTMLName = "report.html"

	JSONLabel = "json report"
	HTMLLabel = "html report"
)

// Report summarizes a set of runs against one target.
type Report struct {
	Target      string         `json:"target"`
	GeneratedAt time.Time      `json:"generated_at"`
	ExitStatus  int            `json:"exit_status"`
	Outcome     flow.Outcome   `json:"outcome"`
	Runs        []*flow.Result `json:"runs"`
}

// New builds a report. Outcome is that of the run deciding the exit status.
func New(target string, results []*flow.Result, now time.Time) Report {
	r := Report{
		Target:      target,
		GeneratedAt: now.UTC(),
		ExitStatus:  flow.ExitStatus(results),
		Outcome:     flow.OutcomeBrowserError,
		Runs:        results,
	}
	if r.Runs == nil {
		r.Runs = []*flow.Result{}
	}
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].Outcome.Succeeded() {
			r.Outcome = results[i].Outcome
			return r
		}
	}
	if len(results) > 0 {
		r.Outcome = flow.OutcomeSucceeded
	}
	return r
}

// Saver persists a named file. *artifacts.Store satisfies it.
type Saver interface {
	Save(ctx context.Context, label, name string, data []byte) (artifacts.Artifact, error)
}

// Write saves report.json and report.html through store.
func Write(ctx context.Context, store Saver, r Report) ([]artifacts.Artifact, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode report", err)
	}
	jsonArt, err := store.Save(ctx, JSONLabel, JSONName, append(data, '\n'))
	if err != nil {
		return nil, err
	}

	page := RenderHTML(Markdown(r), "flowcheck: "+string(r.Outcome))
	htmlArt, err := store.Save(ctx, HTMLLabel, HTMLName, page)
	if err != nil {
		return []artifacts.Artifact{jsonArt}, err
	}

	obs.From(ctx).Info("report_written", "pkg", "report", "json", jsonArt.Path, "html", htmlArt.Path, "exit_status", r.ExitStatus)
	return []artifacts.Artifact{jsonArt, htmlArt}, nil
}

// Markdown renders the report as a markdown document.
func Markdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Sign-in flow: %s\n\n", escape(string(r.Outcome)))
	fmt.Fprintf(&b, "- **Target:** %s\n", escape(r.Target))
	fmt.Fprintf(&b, "- **Generated:** %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Exit status:** %d\n", r.ExitStatus)
	fmt.Fprintf(&b, "- **Runs:** %d\n", len(r.Runs))

	for _, run := range r.Runs {
		fmt.Fprintf(&b, "\n## Run %d: %s\n\n", run.Attempt, escape(string(run.Outcome)))
		fmt.Fprintf(&b, "- **Run ID:** %s\n", escape(run.RunID))
		fmt.Fprintf(&b, "- **Duration:** %s\n", run.Duration().Round(time.Millisecond))
		if run.Observation != flow.ObservationNone {
			fmt.Fprintf(&b, "- **Redirect:** %s\n", escape(string(run.Observation)))
		}
		if run.FinalURL != "" {
			fmt.Fprintf(&b, "- **Final URL:** %s\n", escape(run.FinalURL))
		}
		if run.Error != "" {
			fmt.Fprintf(&b, "- **Failed step:** %s\n", escape(run.FailedStep))
			fmt.Fprintf(&b, "- **Error:** %s\n", escape(run.Error))
		}

		if len(run.Steps) > 0 {
			b.WriteString("\n| Step | Status | Duration | Detail |\n|---|---|---|---|\n")
			for _, s := range run.Steps {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
					escape(s.Name), escape(s.Status), s.Duration.Round(time.Millisecond), escape(s.Detail))
			}
		}

		if len(run.Screenshots) > 0 {
			b.WriteString("\n### Screenshots\n\n")
			for _, a := range run.Screenshots {
				if a.URL != "" {
					fmt.Fprintf(&b, "- [%s](%s)\n", escape(a.Label), a.URL)
				} else {
					fmt.Fprintf(&b, "- %s: %s\n", escape(a.Label), escape(a.Path))
				}
			}
		}
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", `\<`, ">", `\>`, "|", `\|`, "#", `\#`, "\n", " ", "\r", " ",
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
