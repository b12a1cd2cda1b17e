// Package browser drives a real browser through Playwright for the flow package.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flowcheck/internal/errs"
	"github.com/kuitang/flowcheck/internal/flow"
	"github.com/kuitang/flowcheck/internal/obs"
)

// Options configure the launched browser.
type Options struct {
	Browser       string // chromium, firefox, or webkit
	Headless      bool
	Install       bool          // install the driver and browser before the first launch
	ActionTimeout time.Duration // default for navigation and locator actions
}

// Launcher starts Playwright-backed sessions. It implements flow.Launcher.
type Launcher struct {
	opts Options
}

// NewLauncher creates a launcher.
func NewLauncher(opts Options) *Launcher {
	if opts.Browser == "" {
		opts.Browser = "chromium"
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	return &Launcher{opts: opts}
}

// Launch starts the Playwright driver and a browser process.
func (l *Launcher) Launch(ctx context.Context) (flow.Session, error) {
	log := obs.From(ctx).With("pkg", "browser", "browser", l.opts.Browser)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.opts.Install {
		log.Info("installing_browser")
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{l.opts.Browser}}); err != nil {
			return nil, errs.Wrap(errs.Unavailable, "install playwright", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright driver", err)
	}

	var bt playwright.BrowserType
	switch l.opts.Browser {
	case "chromium":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unsupported browser %q", l.opts.Browser))
	}

	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "launch "+l.opts.Browser, err)
	}
	log.Debug("browser_launched", "headless", l.opts.Headless, "version", b.Version())
	return &Session{pw: pw, browser: b, timeout: l.opts.ActionTimeout}, nil
}

// Session owns one driver and one browser process.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	timeout time.Duration
}

// NewPage opens a page with the session's default action timeout.
func (s *Session) NewPage() (flow.Page, error) {
	p, err := s.browser.NewPage()
	if err != nil {
		return nil, err
	}
	ms := float64(s.timeout.Milliseconds())
	p.SetDefaultTimeout(ms)
	p.SetDefaultNavigationTimeout(ms)
	return &Page{page: p}, nil
}

// Close shuts down the browser and then the driver.
func (s *Session) Close() error {
	return errors.Join(s.browser.Close(), s.pw.Stop())
}

// Page adapts playwright.Page to flow.Page.
type Page struct {
	page playwright.Page
}

func (p *Page) Goto(url string) error {
	_, err := p.page.Goto(url)
	return mapErr(err)
}

func (p *Page) WaitForURL(pattern string, timeout time.Duration) error {
	return mapErr(p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Content() (string, error) {
	content, err := p.page.Content()
	return content, mapErr(err)
}

func (p *Page) Fill(selector, value string) error {
	return mapErr(p.page.Locator(selector).Fill(value))
}

func (p *Page) Click(selector string) error {
	return mapErr(p.page.Locator(selector).Click())
}

// WaitForText waits until an element containing text is visible.
func (p *Page) WaitForText(text string, timeout time.Duration) error {
	return mapErr(p.page.GetByText(text).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

// Screenshot captures the full page as PNG.
func (p *Page) Screenshot() ([]byte, error) {
	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	return data, mapErr(err)
}

// mapErr tags Playwright timeouts so callers can classify them.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return errs.Wrap(errs.Timeout, "", err)
	}
	return errs.Wrap(errs.Unavailable, "", err)
}
