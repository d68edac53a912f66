// Package browser drives a Chrome tab through the DevTools protocol for the
// surf agent: one session per run, element addressing by highlight number,
// and observation capture that never fails the run.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rahul/planloop/pkg/config"
	"go.uber.org/zap"
)

// Manager launches browser sessions.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger.Named("browser")}
}

// startTab launches the browser behind tabCtx. chromedp ties the browser
// process to the context of the first Run, so it must not be bounded.
var startTab = func(tabCtx context.Context) error { return chromedp.Run(tabCtx) }

// Session is one browser and tab owned by a single run.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger
	release     sync.Once
}

// Acquire starts a browser. The session outlives ctx's cancellation; the
// caller must Release it.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.WindowSize(m.cfg.ViewportWidth, m.cfg.ViewportHeight),
	)
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)
	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		cfg:         m.cfg,
		logger:      m.logger,
	}

	if err := startTab(tabCtx); err != nil {
		s.Release()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	err := s.run(ctx,
		emulation.SetDeviceMetricsOverride(int64(m.cfg.ViewportWidth), int64(m.cfg.ViewportHeight), 1, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(navigatorScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		s.Release()
		return nil, fmt.Errorf("configure tab: %w", err)
	}
	m.logger.Info("browser session started", zap.Bool("headless", m.cfg.Headless))
	return s, nil
}

// Release closes the tab and the browser. Safe to call more than once.
func (s *Session) Release() {
	s.release.Do(func() {
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Debug("browser session released")
	})
}

// run executes actions on the session's tab, bounded by ctx's deadline and
// cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		rctx, cancelDL = context.WithDeadline(rctx, dl)
		defer cancelDL()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func selector(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, HighlightAttribute, index)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *Session) Click(ctx context.Context, index int) error {
	return s.run(ctx, chromedp.Click(selector(index), chromedp.ByQuery))
}

func (s *Session) Fill(ctx context.Context, index int, text string) error {
	sel := selector(index)
	return s.run(ctx,
		chromedp.Focus(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
}

func (s *Session) Select(ctx context.Context, index int, value string) error {
	sel := selector(index)
	return s.run(ctx,
		chromedp.SetValue(sel, value, chromedp.ByQuery),
		chromedp.Evaluate(fmt.Sprintf(
			`document.querySelector(%q).dispatchEvent(new Event('change', {bubbles: true}))`, sel), nil),
	)
}

func (s *Session) Press(ctx context.Context, key string) error {
	return s.run(ctx, chromedp.KeyEvent(KeyFor(key)))
}

func (s *Session) Scroll(ctx context.Context, pixels int) error {
	return s.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", pixels), nil))
}

func (s *Session) Back(ctx context.Context) error {
	return s.run(ctx, chromedp.NavigateBack())
}

func (s *Session) Forward(ctx context.Context) error {
	return s.run(ctx, chromedp.NavigateForward())
}

func (s *Session) Reload(ctx context.Context) error {
	return s.run(ctx, chromedp.Reload())
}

func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	return s.run(ctx, chromedp.Sleep(d))
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

// KeyFor maps a key name such as "Enter" or "PageDown" to the key sequence
// chromedp sends. Anything else is typed as given.
func KeyFor(name string) string {
	if k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return name
}
