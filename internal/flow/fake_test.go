package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/urlutil"
)

// fakeApp scripts what the fake browser sees. Zero value is the happy path
// of a server-redirect app.
type fakeApp struct {
	base string

	// clientRedirect leaves the page on the dashboard showing Loading...
	// instead of redirecting to sign-in.
	clientRedirect bool
	// blankPage leaves the page on the dashboard with no recognizable content.
	blankPage bool
	// badCredentials keeps the browser on sign-in after submit.
	badCredentials bool
	// noWelcome renders the dashboard without the welcome marker.
	noWelcome bool

	launchErr     error
	newPageErr    error
	gotoErr       error
	fillErr       error
	screenshotErr error
	contentErr    error
	panicOn       string
}

type fakeLauncher struct {
	app *fakeApp

	mu       sync.Mutex
	launches int
	sessions []*fakeSession
}

func newFakeLauncher(app *fakeApp) *fakeLauncher {
	if app.base == "" {
		app.base = "http://app.test"
	}
	return &fakeLauncher{app: app}
}

func (l *fakeLauncher) Launch(ctx context.Context) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.app.launchErr != nil {
		return nil, l.app.launchErr
	}
	s := &fakeSession{app: l.app}
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *fakeLauncher) closeCounts() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make([]int, len(l.sessions))
	for i, s := range l.sessions {
		counts[i] = s.closes
	}
	return counts
}

type fakeSession struct {
	app    *fakeApp
	closes int
}

func (s *fakeSession) NewPage() (Page, error) {
	if s.app.newPageErr != nil {
		return nil, s.app.newPageErr
	}
	return &fakePage{app: s.app}, nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

type fakePage struct {
	app    *fakeApp
	url    string
	body   string
	fills  map[string]string
	clicks []string
}

func (p *fakePage) maybePanic(method string) {
	if p.app.panicOn == method {
		panic("driver crashed in " + method)
	}
}

func (p *fakePage) Goto(target string) error {
	p.maybePanic("Goto")
	if p.app.gotoErr != nil {
		return p.app.gotoErr
	}
	switch {
	case p.app.clientRedirect:
		p.url = target
		p.body = "<p>Loading...</p>"
	case p.app.blankPage:
		p.url = target
		p.body = "<p>Something else</p>"
	default:
		p.url = p.app.base + "/auth/signin?callbackUrl=%2Fdashboard"
		p.body = `<form><input type="email"><input type="password"><button type="submit">Sign in</button></form>`
	}
	return nil
}

func (p *fakePage) WaitForURL(pattern string, timeout time.Duration) error {
	p.maybePanic("WaitForURL")
	if !urlutil.MatchGlob(pattern, p.url) {
		return errs.New(errs.Timeout, "Timeout "+timeout.String()+" exceeded waiting for "+pattern)
	}
	return nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Content() (string, error) {
	p.maybePanic("Content")
	if p.app.contentErr != nil {
		return "", p.app.contentErr
	}
	return p.body, nil
}

func (p *fakePage) Fill(selector, value string) error {
	p.maybePanic("Fill")
	if p.app.fillErr != nil {
		return p.app.fillErr
	}
	if p.fills == nil {
		p.fills = map[string]string{}
	}
	p.fills[selector] = value
	return nil
}

func (p *fakePage) Click(selector string) error {
	p.maybePanic("Click")
	p.clicks = append(p.clicks, selector)
	if p.app.badCredentials {
		p.url = p.app.base + "/auth/signin"
		p.body = "Invalid email or password"
		return nil
	}
	p.url = p.app.base + "/dashboard"
	if p.app.noWelcome {
		p.body = "<h1>Dashboard</h1>"
	} else {
		p.body = "<h1>Welcome back, Demo!</h1>"
	}
	return nil
}

func (p *fakePage) WaitForText(text string, timeout time.Duration) error {
	p.maybePanic("WaitForText")
	if !strings.Contains(p.body, text) {
		return errs.New(errs.Timeout, "Timeout "+timeout.String()+" exceeded waiting for text")
	}
	return nil
}

func (p *fakePage) Screenshot() ([]byte, error) {
	p.maybePanic("Screenshot")
	if p.app.screenshotErr != nil {
		return nil, p.app.screenshotErr
	}
	return []byte("png:" + p.url), nil
}

var errDriver = errors.New("driver failure")
