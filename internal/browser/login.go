// internal/browser/login.go
package browser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/order-archivers/harvest/internal/ui"
)

// State is the login/interrupt machine's position after a navigation.
type State int

const (
	StateNavigating State = iota
	StateLoginRequired
	StateInterrupted
	StateReady
)

func (s State) String() string {
	switch s {
	case StateNavigating:
		return "NAVIGATING"
	case StateLoginRequired:
		return "LOGIN_REQUIRED"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateReady:
		return "READY"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrLoginLoop is returned when the site keeps redirecting to the login page
// after the login handler reported success.
var ErrLoginLoop = errors.New("still on login page after repeated login attempts")

// ErrInterventionFailed is returned when a page stays blocked by an
// interstitial after manual operator intervention. It is fatal for the
// current unit of work, not for the whole run.
var ErrInterventionFailed = errors.New("page still blocked after manual intervention")

// Navigator is the navigation surface the state machine drives. Session
// satisfies it; tests use a scripted fake.
type Navigator interface {
	Visit(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
}

// LoginHandler performs credential entry or blocks on manual operator login.
// It is supplied by the shop adapter.
type LoginHandler func(ctx context.Context, nav Navigator, intendedURL string) error

// InterruptHandler idempotently dismisses known interstitials (consent
// banners, country pickers). It returns false when something it cannot
// auto-dismiss, such as a CAPTCHA, still blocks the page.
type InterruptHandler func(ctx context.Context, nav Navigator, currentURL string) (clean bool, err error)

// Gate blocks until the operator confirms they resolved what the prompt
// describes. Injectable so tests can simulate resolve and give-up paths.
type Gate func(ctx context.Context, prompt string) error

// StdinGate prompts on stdout and waits for a keypress on stdin.
func StdinGate(ctx context.Context, prompt string) error {
	fmt.Fprintf(os.Stdout, "\n%s\n", ui.Action(prompt))
	fmt.Fprintln(os.Stdout, "Press Enter when done...")
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(os.Stdin).ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detector decides, after every navigation, whether the browser was hijacked
// to a login page or an interstitial, and drives recovery until the page is
// READY again.
type Detector struct {
	// LoginPattern matches the shop's login page URLs.
	LoginPattern *regexp.Regexp
	// Login is invoked in LOGIN_REQUIRED; nil means login cannot be
	// handled and is an immediate failure.
	Login LoginHandler
	// DismissInterrupts is invoked on every check; nil skips interrupt
	// detection entirely.
	DismissInterrupts InterruptHandler
	// Gate handles manual escalation. Defaults to StdinGate.
	Gate Gate
	// MaxLoginAttempts bounds the redirect-to-login loop. Default 3.
	MaxLoginAttempts int
	// ReturnAfterLogin re-issues the original navigation once login
	// succeeds.
	ReturnAfterLogin bool

	state State
}

// LastState reports where the machine ended up after the previous Ensure.
func (d *Detector) LastState() State { return d.state }

// Ensure drives the machine until READY, or fails. intendedURL is the page
// the caller actually wanted; it is re-visited after login when
// ReturnAfterLogin is set.
func (d *Detector) Ensure(ctx context.Context, nav Navigator, intendedURL string) error {
	maxLogins := d.MaxLoginAttempts
	if maxLogins <= 0 {
		maxLogins = 3
	}
	gate := d.Gate
	if gate == nil {
		gate = StdinGate
	}

	logins := 0
	gated := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.state = StateNavigating
		current, err := nav.CurrentURL(ctx)
		if err != nil {
			return fmt.Errorf("reading current url: %w", err)
		}

		if d.LoginPattern != nil && d.LoginPattern.MatchString(current) {
			d.state = StateLoginRequired
			if logins >= maxLogins {
				return fmt.Errorf("%w (%d attempts at %s)", ErrLoginLoop, logins, current)
			}
			logins++
			log.Info().Str("url", current).Int("attempt", logins).Msg("Redirected to login page")
			if d.Login == nil {
				return fmt.Errorf("login required at %s but no login handler configured", current)
			}
			if err := d.Login(ctx, nav, intendedURL); err != nil {
				return fmt.Errorf("login handler: %w", err)
			}
			if d.ReturnAfterLogin {
				if err := nav.Visit(ctx, intendedURL); err != nil {
					return fmt.Errorf("returning to %s after login: %w", intendedURL, err)
				}
			}
			continue
		}

		if d.DismissInterrupts != nil {
			clean, err := d.DismissInterrupts(ctx, nav, current)
			if err != nil {
				return fmt.Errorf("dismissing interrupts: %w", err)
			}
			if !clean {
				d.state = StateInterrupted
				if gated {
					return fmt.Errorf("%w: %s", ErrInterventionFailed, current)
				}
				gated = true
				log.Warn().Str("url", current).Msg("Page blocked by interstitial, escalating to operator")
				if err := gate(ctx, "Manual action required: resolve the CAPTCHA/interstitial in the browser window."); err != nil {
					return fmt.Errorf("manual intervention: %w", err)
				}
				continue
			}
		}

		d.state = StateReady
		return nil
	}
}
