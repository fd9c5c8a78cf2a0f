// Package collector turns browser events into reconciled per-tab cookie
// records. A single Service owns the tab store and the frame correlator;
// event handlers registered on the app bus feed it.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/app"
	"github.com/artpar/cookielens/internal/broadcast"
	"github.com/artpar/cookielens/internal/cdp"
	"github.com/artpar/cookielens/internal/cookies"
	"github.com/artpar/cookielens/internal/frames"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/tabs"
)

// Service collects cookie observations into the tab store.
type Service struct {
	store      *tabs.Store
	correlator *frames.Correlator
	publisher  Publisher

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	activeTab string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher sets where badge and cookie-data messages go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithCorrelator replaces the frame correlator.
func WithCorrelator(c *frames.Correlator) Option {
	return func(s *Service) {
		if c != nil {
			s.correlator = c
		}
	}
}

// WithClock sets the time source used for focus times and cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service writing to store.
func New(store *tabs.Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		correlator: frames.New(),
		publisher:  Publishers{},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the tab store.
func (s *Service) Store() *tabs.Store {
	return s.store
}

// Correlator returns the frame correlator.
func (s *Service) Correlator() *frames.Correlator {
	return s.correlator
}

// ActiveTab returns the focused tab, or "" if none.
func (s *Service) ActiveTab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTab
}

func (s *Service) setActive(tabID string) {
	s.mu.Lock()
	s.activeTab = tabID
	s.mu.Unlock()
}

func (s *Service) clearActive(tabID string) {
	s.mu.Lock()
	if s.activeTab == tabID {
		s.activeTab = ""
	}
	s.mu.Unlock()
}

// Register registers a handler for every event the service consumes.
func (s *Service) Register(bus *app.Bus) {
	bus.Register(cdp.MethodRequestWillBeSent, requestWillBeSentHandler{s})
	bus.Register(cdp.MethodResponseReceived, responseReceivedHandler{s})
	bus.Register(cdp.MethodRequestWillBeSentExtraInfo, requestExtraInfoHandler{s})
	bus.Register(cdp.MethodResponseReceivedExtraInfo, responseExtraInfoHandler{s})
	bus.Register(cdp.MethodFrameAttached, frameAttachedHandler{s})
	bus.Register(cdp.MethodFrameNavigated, frameNavigatedHandler{s})
	bus.Register(cdp.MethodIssueAdded, issueAddedHandler{s})
	bus.Register(cdp.MethodTabCreated, tabCreatedHandler{s})
	bus.Register(cdp.MethodTabActivated, tabActivatedHandler{s})
	bus.Register(cdp.MethodTabRemoved, tabRemovedHandler{s})
	bus.Register(cdp.MethodTabPanelState, panelStateHandler{s})
	bus.Register(cdp.MethodTabMainFrame, mainFrameHandler{s})
	bus.Register(cdp.MethodScriptCookies, scriptCookiesHandler{s})
}

// merge folds observations into the tab's records with a single store write,
// then publishes the result.
func (s *Service) merge(ctx context.Context, tabID string, observations []cookies.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	var records map[string]cookies.Record
	err := s.store.Write(ctx, tabID, func(e tabs.Entry) tabs.Entry {
		obs := make([]cookies.Observation, len(observations))
		copy(obs, observations)
		for i := range obs {
			if obs[i].IsFirstParty == nil {
				obs[i].IsFirstParty = cookies.FirstParty(obs[i].ParsedCookie.Domain, e.URL)
			}
		}
		e.Cookies = cookies.MergeAll(e.Cookies, obs)
		records = e.Cookies
		return e
	})
	if errors.Is(err, tabs.ErrTabRemoved) {
		s.logger.Debug("Discarding observations for removed tab", zap.String("tab", tabID))
		s.metrics.RecordDropped("tab_removed")
		return nil
	}
	if err != nil {
		return err
	}

	for _, o := range observations {
		s.metrics.RecordObservations(string(o.HeaderType), 1)
	}
	s.publish(ctx, tabID, records)
	return nil
}

// publish sends the tab's cookie data, and its badge count if it is the
// active tab.
func (s *Service) publish(ctx context.Context, tabID string, records map[string]cookies.Record) {
	if records == nil {
		records = map[string]cookies.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		s.logger.Error("Failed to encode cookie data", zap.String("tab", tabID), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, broadcast.NewCookieData(tabID, payload)); err != nil {
		s.logger.Warn("Failed to publish cookie data", zap.String("tab", tabID), zap.Error(err))
	}
	if tabID == s.ActiveTab() {
		s.publishBadge(ctx, tabID, cookies.CountBadge(records))
	}
}

func (s *Service) publishBadge(ctx context.Context, tabID string, count int) {
	if err := s.publisher.Publish(ctx, broadcast.Badge(tabID, count)); err != nil {
		s.logger.Warn("Failed to publish badge", zap.String("tab", tabID), zap.Error(err))
	}
}

// Snapshot returns the messages describing a tab's current state, for
// subscribers that connect late.
func (s *Service) Snapshot(ctx context.Context, tabID string) ([]broadcast.Message, error) {
	e, err := s.store.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	records := e.Cookies
	if records == nil {
		records = map[string]cookies.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cookie data: %w", err)
	}
	return []broadcast.Message{
		broadcast.NewCookieData(tabID, payload),
		broadcast.Badge(tabID, cookies.CountBadge(records)),
	}, nil
}

// drop records a cookie that could not be tracked.
func (s *Service) drop(tabID, reason string, fields ...zap.Field) {
	s.metrics.RecordDropped(reason)
	s.logger.Debug("Dropped cookie",
		append([]zap.Field{zap.String("tab", tabID), zap.String("reason", reason)}, fields...)...)
}
