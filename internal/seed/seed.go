// Package seed prepares the target application's demo account before a run.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/logutil"
	"github.com/kuitang/flowcheck/internal/obs"
)

// Response is the seed endpoint's JSON body.
type Response struct {
	OK      bool   `json:"ok"`
	Created bool   `json:"created"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Error   string `json:"error,omitempty"`
}

// maxBody bounds how much of the response is read.
const maxBody = 64 << 10

// Seed calls the seed endpoint at url with GET. A nil client uses
// http.DefaultClient. Every failure is coded errs.Unavailable.
func Seed(ctx context.Context, client *http.Client, url string) (*Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	log := obs.From(ctx).With("pkg", "seed")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "build seed request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "seed request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "read seed response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("seed_failed", "status", resp.StatusCode, "body", logutil.TruncateForLog(string(body), 200))
		return nil, errs.New(errs.Unavailable, fmt.Sprintf("seed endpoint returned %d", resp.StatusCode))
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "decode seed response", err)
	}
	if !out.OK {
		msg := "seed endpoint reported failure"
		if out.Error != "" {
			msg += ": " + out.Error
		}
		return nil, errs.New(errs.Unavailable, msg)
	}

	log.Info("seed_succeeded", "created", out.Created, "email", out.Email)
	return &out, nil
}
