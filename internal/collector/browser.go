package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser opens pages for crawling
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close()
}

// Page is a single browser tab. Every method is bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
	// Click clicks the first element matching selector whose text contains
	// text (any text when empty). It reports whether something was clicked.
	Click(ctx context.Context, selector, text string) (bool, error)
	Close()
}

// BrowserConfig configures the headless Chrome allocator
type BrowserConfig struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	Settle    time.Duration // Wait after navigation and load-more actions
}

// ChromeBrowser drives a headless Chrome through chromedp
type ChromeBrowser struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	settle      time.Duration
}

// NewChromeBrowser starts an exec allocator. Chrome itself launches lazily
// with the first page.
func NewChromeBrowser(cfg BrowserConfig) *ChromeBrowser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(375, 812),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	settle := cfg.Settle
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	return &ChromeBrowser{allocCtx: allocCtx, cancelAlloc: cancel, settle: settle}
}

// NewPage opens a new tab
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	p := &chromePage{tabCtx: tabCtx, cancel: cancel, settle: b.settle}
	// An empty run starts the browser and attaches the tab
	if err := p.run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return p, nil
}

// Close shuts down Chrome
func (b *ChromeBrowser) Close() {
	b.cancelAlloc()
}

type chromePage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	settle time.Duration
}

// run executes actions on the tab while honoring the caller's deadline
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.settle),
	)
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) ScrollToBottom(ctx context.Context) error {
	return p.run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(p.settle),
	)
}

const clickScript = `(() => {
	const needle = %q;
	const el = Array.from(document.querySelectorAll(%q))
		.find(e => needle === "" || (e.innerText || "").includes(needle));
	if (!el) return false;
	el.click();
	return true;
})()`

func (p *chromePage) Click(ctx context.Context, selector, text string) (bool, error) {
	var clicked bool
	err := p.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, text, selector), &clicked))
	if err != nil || !clicked {
		return clicked, err
	}
	return true, p.run(ctx, chromedp.Sleep(p.settle))
}

func (p *chromePage) Close() {
	p.cancel()
}
