package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

type renderedPage struct {
	html   string
	url    string
	status int
}

// Network errors that mean the resource does not exist.
var deadLinkErrors = []string{
	"net::ERR_NAME_NOT_RESOLVED",
	"net::ERR_ADDRESS_UNREACHABLE",
	"net::ERR_INVALID_URL",
}

func (b *Browser) render(ctx context.Context, url string) (renderedPage, error) {
	meta := newResponseMeta()
	chromedp.ListenTarget(ctx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		b.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		b.waitForContent(),
		b.scrollAction(),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	status, resolved := meta.snapshotWithFallbacks(url, finalURL)
	return renderedPage{html: html, url: resolved, status: status}, nil
}

// setupAction enables the network domain and applies anti-fingerprinting:
// the stealth script runs before any page script on every new document.
func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
			return fmt.Errorf("inject stealth script: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// waitForContent waits until any content-bearing selector is present or the
// content wait elapses. A timeout here is not an error.
func (b *Browser) waitForContent() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ContentWait)
		defer cancel()
		selector := strings.Join(b.cfg.ContentSelectors, ", ")
		err := chromedp.WaitVisible(selector, chromedp.ByQuery).Do(waitCtx)
		if err != nil && ctx.Err() == nil {
			return nil
		}
		return err
	})
}

func (b *Browser) scrollAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < b.cfg.ScrollSteps; i++ {
			if err := chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll page: %w", err)
			}
			if err := chromedp.Sleep(b.cfg.ScrollPause).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// navigationFailure classifies a chromedp error.
func navigationFailure(channel retrieval.ChannelID, err error) error {
	msg := err.Error()
	for _, marker := range deadLinkErrors {
		if strings.Contains(msg, marker) {
			return retrieval.Fail(retrieval.KindNotFound, channel, err)
		}
	}
	return retrieval.Fail(retrieval.KindTransient, channel, err)
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

// capture records the first document response; later documents are
// iframes or client-side navigations.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
