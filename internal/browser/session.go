// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// ErrWindowHandleLost is returned when tab bookkeeping no longer knows which
// window control should return to. Recovery requires operator intervention.
var ErrWindowHandleLost = errors.New("window handle bookkeeping lost")

// ErrSessionQuit is returned for operations on a session that was torn down.
var ErrSessionQuit = errors.New("browser session already quit")

type sessionState int

const (
	stateAbsent sessionState = iota
	stateCreated
	stateQuit
)

// Options configures the single browser instance for one scraper run.
type Options struct {
	// Headless defaults to false: manual login and CAPTCHA escalation need
	// an operator-visible window.
	Headless bool
	// DownloadDir pins browser downloads to the artifact temp directory.
	DownloadDir string
	UserAgent   string
	Proxy       string
	ExecPath    string
	// KeepOpen turns SafeQuit into a no-op, for debugging scrape flows.
	KeepOpen bool
	// NavTimeout bounds a single navigation. Zero means no per-navigation
	// bound; the caller-level run timeout still applies.
	NavTimeout time.Duration
}

// Session owns the one browser instance per scraper run. It is created
// lazily on first use and quit exactly once; it is not safe for concurrent
// use, by design (see the pipeline's single-actor model).
type Session struct {
	opts Options

	mu          sync.Mutex
	state       sessionState
	allocCancel context.CancelFunc
	baseCancel  context.CancelFunc
	baseCtx     context.Context

	// tabs[0] is the originating window; secondary tabs stack on top and
	// must be closed in LIFO order so control always returns to the opener.
	tabs       []context.Context
	tabCancels []context.CancelFunc
}

// NewSession prepares a session without starting a browser. The browser
// starts on the first navigation.
func NewSession(opts Options) *Session {
	return &Session{opts: opts}
}

// ensure starts the browser if it is not running yet.
func (s *Session) ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateCreated:
		return nil
	case stateQuit:
		return ErrSessionQuit
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("log-level", "3"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		// Silent printing: no dialog, no prompt on repost.
		chromedp.Flag("kiosk-printing", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.WindowSize(1280, 1024),
	}
	if path := findChrome(s.opts.ExecPath); path != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(path)}, allocOpts...)
	}
	if s.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"), chromedp.Flag("disable-gpu", true))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if s.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(s.opts.UserAgent))
	}
	if s.opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(s.opts.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	baseCtx, baseCancel := chromedp.NewContext(allocCtx)

	log.Info().Bool("headless", s.opts.Headless).Msg("Starting browser")
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if s.opts.DownloadDir != "" {
		actions = append(actions,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(s.opts.DownloadDir))
		log.Debug().Str("dir", s.opts.DownloadDir).Msg("Download directory pinned")
	}
	if err := chromedp.Run(baseCtx, actions...); err != nil {
		baseCancel()
		allocCancel()
		return fmt.Errorf("starting browser: %w", err)
	}

	s.allocCancel = allocCancel
	s.baseCancel = baseCancel
	s.baseCtx = baseCtx
	s.tabs = []context.Context{baseCtx}
	s.tabCancels = []context.CancelFunc{baseCancel}
	s.state = stateCreated
	return nil
}

// active returns the chromedp context for the current tab.
func (s *Session) active() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateQuit {
		return nil, ErrSessionQuit
	}
	if len(s.tabs) == 0 {
		return nil, ErrWindowHandleLost
	}
	return s.tabs[len(s.tabs)-1], nil
}

// run executes chromedp actions against the current tab, honoring the
// caller's context and the per-navigation timeout.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensure(); err != nil {
		return err
	}
	tab, err := s.active()
	if err != nil {
		return err
	}
	runCtx := tab
	var cancel context.CancelFunc = func() {}
	if s.opts.NavTimeout > 0 {
		runCtx, cancel = context.WithTimeout(tab, s.opts.NavTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Visit navigates the current tab to url and waits for the load to settle.
func (s *Session) Visit(ctx context.Context, url string) error {
	log.Debug().Str("url", url).Msg("Visiting")
	return s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

// CurrentURL returns the URL the current tab ended up on after redirects.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// OuterHTML returns the serialized DOM of the current tab.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return markup, nil
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// SendKeys types value into the first element matching the selector.
func (s *Session) SendKeys(ctx context.Context, selector, value string) error {
	return s.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

// WaitVisible blocks until the selector matches a visible element.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// RemoveElements deletes every element matching the given selectors from the
// live DOM. Used to strip overlays and ads before a capture would bake them
// into the artifact.
func (s *Session) RemoveElements(ctx context.Context, selectors ...string) error {
	const script = `(sels) => {
		for (const sel of sels) {
			for (const el of document.querySelectorAll(sel)) {
				el.remove();
			}
		}
		return true;
	}`
	var ok bool
	return s.run(ctx, chromedp.Evaluate(fmt.Sprintf("(%s)(%s)", script, jsStringArray(selectors)), &ok))
}

// Screenshot captures the element matching the selector as PNG.
func (s *Session) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return buf, nil
}

// PrintToPDF renders the current tab to PDF with all header and footer
// metadata stripped, so downstream text extraction sees only page content.
func (s *Session) PrintToPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithDisplayHeaderFooter(false).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// OpenTab opens a secondary tab and makes it current. The originating tab
// stays on its page; CloseTab returns control to it.
func (s *Session) OpenTab(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tabCtx, tabCancel := chromedp.NewContext(s.baseCtx)
	s.tabs = append(s.tabs, tabCtx)
	s.tabCancels = append(s.tabCancels, tabCancel)
	log.Debug().Int("depth", len(s.tabs)).Msg("Opened secondary tab")
	return nil
}

// CloseTab closes the current secondary tab and returns control to its
// opener. Closing the originating window this way is a bookkeeping fault.
func (s *Session) CloseTab() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateQuit {
		return ErrSessionQuit
	}
	if len(s.tabs) <= 1 {
		return ErrWindowHandleLost
	}
	last := len(s.tabs) - 1
	s.tabCancels[last]()
	s.tabs = s.tabs[:last]
	s.tabCancels = s.tabCancels[:last]
	log.Debug().Int("depth", len(s.tabs)).Msg("Closed secondary tab")
	return nil
}

// Started reports whether a browser process has been created.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateCreated
}

// SafeQuit tears the browser down. It is idempotent, swallows driver-level
// errors, and honors KeepOpen for debugging. It must never mask an error
// raised earlier in the run, so it returns nothing.
func (s *Session) SafeQuit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateQuit {
		return
	}
	if s.state == stateAbsent {
		// Never started; nothing to tear down, but a quit session must
		// not lazily start a browser afterwards.
		s.state = stateQuit
		return
	}
	if s.opts.KeepOpen {
		log.Info().Msg("Leaving browser open (keep-browser set)")
		return
	}
	log.Info().Msg("Safely closing browser")
	for i := len(s.tabCancels) - 1; i >= 1; i-- {
		s.tabCancels[i]()
	}
	if err := chromedp.Cancel(s.baseCtx); err != nil {
		log.Debug().Err(err).Msg("Browser teardown error ignored")
	}
	s.baseCancel()
	s.allocCancel()
	s.tabs = nil
	s.tabCancels = nil
	s.state = stateQuit
}

func jsStringArray(items []string) string {
	out := "["
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", item)
	}
	return out + "]"
}
