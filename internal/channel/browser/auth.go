package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Realm describes a site login form. Selectors are CSS queries.
type Realm struct {
	LoginURL         string        `mapstructure:"login_url"`
	UsernameSelector string        `mapstructure:"username_selector"`
	PasswordSelector string        `mapstructure:"password_selector"`
	SubmitSelector   string        `mapstructure:"submit_selector"`
	SuccessSelector  string        `mapstructure:"success_selector"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// Validate reports missing fields.
func (r Realm) Validate() error {
	switch {
	case r.LoginURL == "":
		return errors.New("login_url is required")
	case r.UsernameSelector == "" || r.PasswordSelector == "" || r.SubmitSelector == "":
		return errors.New("username, password and submit selectors are required")
	}
	return nil
}

var (
	errNoLoginFlow     = errors.New("no login flow configured")
	errNoCredentials   = errors.New("no credential source configured")
	errEmptyCredential = errors.New("empty credentials")
)

// authenticate logs into realm once per browser process. Remote sessions do
// not keep cookies between attempts, so they log in every time.
func (b *Browser) authenticate(ctx, browserCtx context.Context, realm string) error {
	b.mu.Lock()
	done := b.authed[realm]
	b.mu.Unlock()
	if done {
		return nil
	}

	flow, ok := b.cfg.Realms[realm]
	if !ok {
		return fmt.Errorf("realm %s: %w", realm, errNoLoginFlow)
	}
	if err := flow.Validate(); err != nil {
		return fmt.Errorf("realm %s: %w", realm, err)
	}
	if b.creds == nil {
		return fmt.Errorf("realm %s: %w", realm, errNoCredentials)
	}
	creds, err := b.creds.Credentials(ctx, realm)
	if err != nil {
		return fmt.Errorf("load credentials for %s: %w", realm, err)
	}
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("realm %s: %w", realm, errEmptyCredential)
	}

	timeout := flow.Timeout
	if timeout <= 0 {
		timeout = b.cfg.NavigationTimeout
	}
	tabCtx, cancel := b.tab(ctx, browserCtx, timeout)
	defer cancel()

	actions := []chromedp.Action{
		b.setupAction(),
		chromedp.Navigate(flow.LoginURL),
		chromedp.WaitVisible(flow.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(flow.UsernameSelector, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(flow.PasswordSelector, creds.Password, chromedp.ByQuery),
		chromedp.Click(flow.SubmitSelector, chromedp.ByQuery),
	}
	if flow.SuccessSelector != "" {
		actions = append(actions, chromedp.WaitVisible(flow.SuccessSelector, chromedp.ByQuery))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return fmt.Errorf("login to %s: %w", realm, err)
	}

	if b.persistent {
		b.mu.Lock()
		b.authed[realm] = true
		b.mu.Unlock()
	}
	b.logger.Info("realm login succeeded",
		zap.String("channel", string(b.id)),
		zap.String("realm", realm),
	)
	return nil
}
