package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/resilience"
)

var (
	// ErrMissingCredentials is returned before a browser starts when the
	// login pair is not configured.
	ErrMissingCredentials = eris.New("crawler: login credentials not configured")
	// ErrLoginFailed means the site kept us on the login page.
	ErrLoginFailed = eris.New("crawler: login rejected")
)

const (
	userField     = `input[name="mb_id"]`
	passwordField = `input[name="mb_password"]`
	submitButton  = `button[type="submit"], input[type="submit"]`
)

// Visit receives each result page's HTML. Returning false stops paging.
type Visit func(page int, html string) (bool, error)

// Source yields the raw HTML of each result page. Validate reports
// configuration problems without touching the network.
type Source interface {
	Validate() error
	Pages(ctx context.Context, visit Visit) error
}

// BrowserSource drives headless Chrome through the rank site.
type BrowserSource struct {
	cfg    config.CrawlConfig
	policy resilience.Policy
}

// NewBrowserSource returns a Source for cfg.
func NewBrowserSource(cfg config.CrawlConfig) *BrowserSource {
	p := resilience.DefaultPolicy().WithAttempts(cfg.RetryAttempts)
	p.Base = time.Second
	p.OnRetry = resilience.LogRetries("adlog", "navigate")
	return &BrowserSource{cfg: cfg, policy: p}
}

func (b *BrowserSource) navTimeout() time.Duration {
	if b.cfg.NavTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.cfg.NavTimeoutSecs) * time.Second
}

func (b *BrowserSource) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1280, 720),
	)
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	if b.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ChromePath))
	}
	return opts
}

// Validate fails when the login pair is not configured.
func (b *BrowserSource) Validate() error {
	if b.cfg.Username == "" || b.cfg.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Pages logs in, switches on the display toggles and walks result pages
// until visit declines or max_pages is reached. One browser, one tab.
func (b *BrowserSource) Pages(ctx context.Context, visit Visit) error {
	if err := b.Validate(); err != nil {
		return err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(zap.S().Debugf))
	defer cancelBrowser()

	log := zap.L().With(zap.String("site", "adlog"))
	if err := b.login(browserCtx); err != nil {
		return err
	}
	log.Info("crawler: logged in")

	if err := b.ensureToggles(browserCtx); err != nil {
		return err
	}

	maxPages := b.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	for page := 1; page <= maxPages; page++ {
		target := PageURL(b.cfg.ListURL, page)
		if err := b.navigate(browserCtx, target); err != nil {
			return eris.Wrapf(err, "crawler: page %d", page)
		}
		var html string
		if err := b.step(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return eris.Wrapf(err, "crawler: read page %d", page)
		}
		more, err := visit(page, html)
		if err != nil {
			return err
		}
		log.Debug("crawler: page visited", zap.Int("page", page), zap.Bool("more", more))
		if !more {
			return nil
		}
	}
	return nil
}

// step runs actions under the per-step navigation timeout.
func (b *BrowserSource) step(ctx context.Context, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, b.navTimeout())
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

// navigate loads target, retrying 408/429/5xx responses with backoff.
func (b *BrowserSource) navigate(ctx context.Context, target string) error {
	return resilience.Retry(ctx, b.policy, func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, b.navTimeout())
		defer cancel()
		resp, err := chromedp.RunResponse(stepCtx, chromedp.Navigate(target))
		if err != nil {
			return eris.Wrapf(err, "crawler: navigate %s", target)
		}
		if resp != nil {
			return StatusError(int(resp.Status), target)
		}
		return nil
	})
}

// StatusError maps an HTTP status to nil, a transient error or a
// permanent one.
func StatusError(code int, target string) error {
	if code < 400 {
		return nil
	}
	err := eris.Errorf("crawler: %s returned HTTP %d", target, code)
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.Transient(err, code)
	}
	return err
}

func (b *BrowserSource) login(ctx context.Context) error {
	if err := b.navigate(ctx, b.cfg.LoginURL); err != nil {
		return eris.Wrap(err, "crawler: open login page")
	}
	var location string
	err := b.step(ctx,
		chromedp.WaitVisible(userField, chromedp.ByQuery),
		chromedp.SendKeys(userField, b.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(passwordField, b.cfg.Password, chromedp.ByQuery),
		chromedp.Click(submitButton, chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		return eris.Wrap(err, "crawler: submit login")
	}
	if strings.Contains(location, "login.php") {
		return ErrLoginFailed
	}
	return nil
}

// ensureToggles clicks each display checkbox that is not yet checked and
// waits for the page to settle. Missing checkboxes are logged and skipped.
func (b *BrowserSource) ensureToggles(ctx context.Context) error {
	if len(b.cfg.ToggleSelectors) == 0 {
		return nil
	}
	if err := b.navigate(ctx, PageURL(b.cfg.ListURL, 1)); err != nil {
		return eris.Wrap(err, "crawler: open list")
	}
	for _, sel := range b.cfg.ToggleSelectors {
		state := "missing"
		err := b.step(ctx, chromedp.Evaluate(toggleStateJS(sel), &state))
		if err != nil {
			return eris.Wrapf(err, "crawler: inspect toggle %s", sel)
		}
		switch state {
		case "missing":
			zap.L().Warn("crawler: toggle not found", zap.String("selector", sel))
		case "off":
			zap.L().Info("crawler: enabling toggle", zap.String("selector", sel))
			if err := b.step(ctx,
				chromedp.Click(sel, chromedp.ByQuery),
				chromedp.Sleep(time.Second),
				chromedp.WaitReady("body", chromedp.ByQuery),
			); err != nil {
				return eris.Wrapf(err, "crawler: enable toggle %s", sel)
			}
		}
	}
	return nil
}

func toggleStateJS(sel string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) return "missing"; return el.checked ? "on" : "off"; })()`, strconv.Quote(sel))
}

// PageURL sets the page query parameter on list.
func PageURL(list string, page int) string {
	u, err := url.Parse(list)
	if err != nil {
		return list
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
