// Package browser captures cookie telemetry from a live Chrome over the
// DevTools protocol and feeds it to a Sink as cdp events.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/app"
	"github.com/artpar/cookielens/internal/cdp"
	"github.com/artpar/cookielens/internal/config"
)

// Common errors.
var (
	ErrNotStarted   = errors.New("browser not started")
	ErrPageNotFound = errors.New("page not found")
)

// Capture owns one browser connection and the pages attached to it.
type Capture struct {
	cfg    config.BrowserConfig
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
	cancel   context.CancelFunc
	tabs     map[string]*tab
	active   string
	wg       sync.WaitGroup
}

// tab is an attached page target.
type tab struct {
	id        string
	mainFrame string
	page      *rod.Page
	cancel    context.CancelFunc

	mu         sync.Mutex
	lastScript string
	docStatus  int
}

func (t *tab) setDocStatus(status int) {
	t.mu.Lock()
	t.docStatus = status
	t.mu.Unlock()
}

func (t *tab) status() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.docStatus
}

// scriptChanged records fp and reports whether it differs from the last one.
func (t *tab) scriptChanged(fp string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fp == t.lastScript {
		return false
	}
	t.lastScript = fp
	return true
}

// Option configures a Capture.
type Option func(*Capture)

// WithLogger sets the capture logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Capture) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Capture delivering events to sink.
func New(cfg config.BrowserConfig, sink Sink, opts ...Option) *Capture {
	c := &Capture{
		cfg:    cfg,
		sink:   sink,
		logger: zap.NewNop(),
		tabs:   make(map[string]*tab),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects to the configured browser, launching one when no control
// URL is set.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		c.logger.Warn("Stale browser connection detected, reconnecting")
		c.closeLocked()
	}

	controlURL := c.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(c.cfg.Headless)
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("failed to launch browser: %w", err)
		}
		c.launched = l
		controlURL = url
	}

	bctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(controlURL).Context(bctx)
	if err := browser.Connect(); err != nil {
		cancel()
		if c.launched != nil {
			c.launched.Kill()
			c.launched = nil
		}
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	c.browser = browser
	c.cancel = cancel
	c.logger.Info("Connected to browser",
		zap.String("control_url", controlURL),
		zap.Bool("launched", c.launched != nil))
	return nil
}

// Close detaches every page and disconnects. A browser launched by Start is
// shut down; one reached through a control URL is left running.
func (c *Capture) Close() error {
	c.mu.Lock()
	err := c.closeLocked()
	c.mu.Unlock()

	c.wg.Wait()
	return err
}

func (c *Capture) closeLocked() error {
	for id, t := range c.tabs {
		t.cancel()
		delete(c.tabs, id)
	}

	var err error
	if c.browser != nil && c.launched != nil {
		err = c.browser.Close()
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.launched != nil {
		c.launched.Cleanup()
		c.launched = nil
	}
	c.browser = nil
	return err
}

func (c *Capture) current() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil, ErrNotStarted
	}
	return c.browser, nil
}

// Tabs returns the ids of attached tabs.
func (c *Capture) Tabs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tabs))
	for id := range c.tabs {
		ids = append(ids, id)
	}
	return ids
}

// Watch attaches to every open page and to pages opened later, forwarding
// their events until ctx is done. Closed pages are reported as removed tabs.
func (c *Capture) Watch(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	b = b.Context(ctx)

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("failed to discover targets: %w", err)
	}

	wait := b.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo == nil || e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := e.TargetInfo.TargetID
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				page, err := b.PageFromTarget(id)
				if err != nil {
					c.logger.Warn("Failed to attach to page", zap.String("tab", string(id)), zap.Error(err))
					return
				}
				if _, err := c.Attach(ctx, page); err != nil {
					c.logger.Warn("Failed to attach to page", zap.String("tab", string(id)), zap.Error(err))
				}
			}()
		},
		func(e *proto.TargetTargetDestroyed) {
			id := string(e.TargetID)
			if !c.detach(id) {
				return
			}
			c.emit(ctx, id, cdp.MethodTabRemoved, struct{}{})
		},
	)

	pages, err := b.Pages()
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, page := range pages {
		if _, err := c.Attach(ctx, page); err != nil {
			c.logger.Warn("Failed to attach to page", zap.String("tab", string(page.TargetID)), zap.Error(err))
		}
	}

	c.logger.Info("Watching browser", zap.Int("tabs", len(pages)))
	wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolveMainFrame looks the page up in Target.getTargets. A page target's id
// is also the id of its top-level frame.
func (c *Capture) resolveMainFrame(page *rod.Page) string {
	res, err := proto.TargetGetTargets{}.Call(page)
	if err != nil {
		c.logger.Debug("Failed to list targets", zap.String("tab", string(page.TargetID)), zap.Error(err))
		return mainFrameOf(nil, page.TargetID, page.FrameID)
	}
	return mainFrameOf(res.TargetInfos, page.TargetID, page.FrameID)
}

func mainFrameOf(infos []*proto.TargetTargetInfo, target proto.TargetTargetID, frame proto.PageFrameID) string {
	for _, info := range infos {
		if info != nil && info.TargetID == target && info.Type == proto.TargetTargetInfoTypePage {
			return string(info.TargetID)
		}
	}
	if frame != "" {
		return string(frame)
	}
	return string(target)
}

// Attach starts forwarding a page's events and polling its cookieStore. It
// returns the page's tab id. Attaching twice is a no-op.
func (c *Capture) Attach(ctx context.Context, page *rod.Page) (string, error) {
	id := string(page.TargetID)

	c.mu.Lock()
	if _, ok := c.tabs[id]; ok {
		c.mu.Unlock()
		return id, nil
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &tab{id: id, mainFrame: c.resolveMainFrame(page), page: page.Context(tctx), cancel: cancel}
	c.tabs[id] = t
	c.mu.Unlock()

	p := t.page
	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		c.detach(id)
		return "", fmt.Errorf("failed to enable network events: %w", err)
	}
	if err := (proto.PageEnable{}).Call(p); err != nil {
		c.detach(id)
		return "", fmt.Errorf("failed to enable page events: %w", err)
	}
	if err := (proto.AuditsEnable{}).Call(p); err != nil {
		c.logger.Debug("Audits domain unavailable", zap.String("tab", id), zap.Error(err))
	}

	url := ""
	if info, err := p.Info(); err == nil {
		url = info.URL
	}
	c.emit(tctx, id, cdp.MethodTabCreated, cdp.TabCreated{URL: url})
	c.emit(tctx, id, cdp.MethodTabMainFrame, cdp.TabMainFrame{TargetID: t.mainFrame})

	wait := p.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) { c.forward(tctx, id, e) },
		func(e *proto.NetworkRequestWillBeSentExtraInfo) { c.forward(tctx, id, e) },
		func(e *proto.NetworkResponseReceived) {
			if e.Type == proto.NetworkResourceTypeDocument && string(e.FrameID) == t.mainFrame && e.Response != nil {
				t.setDocStatus(e.Response.Status)
			}
			c.forward(tctx, id, e)
		},
		func(e *proto.NetworkResponseReceivedExtraInfo) { c.forward(tctx, id, e) },
		func(e *proto.PageFrameAttached) { c.forward(tctx, id, e) },
		func(e *proto.PageFrameNavigated) { c.forward(tctx, id, e) },
		func(e *proto.AuditsIssueAdded) { c.forward(tctx, id, e) },
	)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		wait()
	}()
	go func() {
		defer c.wg.Done()
		c.pollLoop(tctx, t)
	}()

	c.logger.Debug("Attached to page", zap.String("tab", id), zap.String("url", url))
	return id, nil
}

// detach stops a tab's goroutines. It reports whether the tab was attached.
func (c *Capture) detach(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tabs[id]
	if !ok {
		return false
	}
	t.cancel()
	delete(c.tabs, id)
	if c.active == id {
		c.active = ""
	}
	return true
}

func (c *Capture) pollLoop(ctx context.Context, t *tab) {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.poll(ctx, t); err != nil && ctx.Err() == nil {
				c.logger.Debug("cookieStore poll failed", zap.String("tab", t.id), zap.Error(err))
			}
		}
	}
}

// poll reads the page's script-visible cookies. A focused page becomes the
// active tab.
func (c *Capture) poll(ctx context.Context, t *tab) error {
	res, err := t.page.Evaluate(&rod.EvalOptions{
		JS:           scriptCookiesJS,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if res == nil || res.Value.Nil() {
		return nil
	}
	snap, err := parseScriptSnapshot(res.Value.String())
	if err != nil {
		return err
	}

	if snap.Focused && c.activate(t.id) {
		c.emit(ctx, t.id, cdp.MethodTabActivated, cdp.TabActivated{At: time.Now().UnixMilli()})
	}
	if !t.scriptChanged(snap.fingerprint()) {
		return nil
	}
	ev, err := snap.event(t.id, t.mainFrame)
	if err != nil {
		return err
	}
	c.dispatch(ctx, ev)
	return nil
}

// activate records id as the active tab and reports whether it changed.
func (c *Capture) activate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == id {
		return false
	}
	c.active = id
	return true
}

func (c *Capture) forward(ctx context.Context, tabID string, e proto.Event) {
	ev, err := toEvent(tabID, e)
	if err != nil {
		c.logger.Debug("Failed to encode event", zap.String("method", e.ProtoEvent()), zap.Error(err))
		return
	}
	c.dispatch(ctx, ev)
}

func (c *Capture) emit(ctx context.Context, tabID, method string, params any) {
	ev, err := cdp.NewEvent(tabID, method, params)
	if err != nil {
		c.logger.Debug("Failed to encode event", zap.String("method", method), zap.Error(err))
		return
	}
	c.dispatch(ctx, ev)
}

func (c *Capture) dispatch(ctx context.Context, ev cdp.Event) {
	err := c.sink.Dispatch(ctx, ev)
	if err == nil || errors.Is(err, app.ErrNoHandler) || ctx.Err() != nil {
		return
	}
	c.logger.Warn("Dropped event",
		zap.String("method", ev.Method),
		zap.String("tab", ev.TabID),
		zap.Error(err))
}
