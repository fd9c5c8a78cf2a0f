package collector

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/cdp"
	"github.com/artpar/cookielens/internal/cookies"
	"github.com/artpar/cookielens/internal/frames"
	"github.com/artpar/cookielens/internal/tabs"
)

type requestWillBeSentHandler struct{ s *Service }

func (h requestWillBeSentHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.RequestWillBeSent
	if err := ev.Decode(&p); err != nil {
		return err
	}

	if p.StartsNavigation() && h.s.correlator.IsTopLevel(tabID, p.FrameID) {
		if err := h.s.navigate(ctx, tabID, p.Request.URL); err != nil {
			return err
		}
	}

	released := h.s.correlator.TrackRequest(tabID, p.RequestID, p.FrameID, p.Request.URL)
	return h.s.handleReleased(ctx, tabID, released)
}

type responseReceivedHandler struct{ s *Service }

func (h responseReceivedHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.ResponseReceived
	if err := ev.Decode(&p); err != nil {
		return err
	}
	released := h.s.correlator.TrackRequest(tabID, p.RequestID, p.FrameID, p.Response.URL)
	return h.s.handleReleased(ctx, tabID, released)
}

type requestExtraInfoHandler struct{ s *Service }

func (h requestExtraInfoHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	return h.s.requestExtraInfo(ctx, tabID, ev)
}

type responseExtraInfoHandler struct{ s *Service }

func (h responseExtraInfoHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	return h.s.responseExtraInfo(ctx, tabID, ev)
}

type frameAttachedHandler struct{ s *Service }

func (h frameAttachedHandler) Handle(_ context.Context, tabID string, ev cdp.Event) error {
	var p cdp.FrameAttached
	if err := ev.Decode(&p); err != nil {
		return err
	}
	h.s.correlator.Attach(tabID, p.FrameID, p.ParentFrameID)
	return nil
}

type frameNavigatedHandler struct{ s *Service }

// Handle records the committed URL of a top-level navigation. Cookies were
// already reset when the document request started.
func (h frameNavigatedHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.FrameNavigated
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if !p.IsTopLevel() {
		h.s.correlator.Attach(tabID, p.Frame.ID, p.Frame.ParentID)
		return nil
	}

	err := h.s.store.Write(ctx, tabID, func(e tabs.Entry) tabs.Entry {
		e.URL = p.Frame.URL
		return e
	})
	if errors.Is(err, tabs.ErrTabRemoved) {
		return nil
	}
	return err
}

type issueAddedHandler struct{ s *Service }

// Handle attaches cookie warning and exclusion reasons reported by the audits
// domain to the affected cookie.
func (h issueAddedHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.IssueAdded
	if err := ev.Decode(&p); err != nil {
		return err
	}
	d := p.Issue.Details.CookieIssueDetails
	if p.Issue.Code != cdp.IssueCodeCookie || d == nil || d.Cookie == nil {
		return nil
	}

	url := d.CookieURL
	if url == "" && d.Request != nil {
		url = d.Request.URL
		if req, ok := h.s.correlator.Resolve(tabID, d.Request.RequestID); ok && url == "" {
			url = req.URL
		}
	}

	pc, ok := cookies.Canonicalize(cookies.ParsedCookie{
		Name:   d.Cookie.Name,
		Domain: d.Cookie.Domain,
		Path:   d.Cookie.Path,
	}, url)
	if !ok {
		h.s.drop(tabID, "untrackable", zap.String("cookie", d.Cookie.Name))
		return nil
	}

	blocked := cookies.BlockedReasonsOf(d.CookieExclusionReasons)
	warnings := cookies.WarningReasonsOf(d.CookieWarningReasons)
	header := cookies.HeaderRequest
	if d.Operation == "SetCookie" {
		header = cookies.HeaderResponse
	}

	var records map[string]cookies.Record
	err := h.s.store.Write(ctx, tabID, func(e tabs.Entry) tabs.Entry {
		o := cookies.Observation{
			ParsedCookie:   pc,
			HeaderType:     header,
			URL:            url,
			IsBlocked:      len(blocked) > 0,
			BlockedReasons: blocked,
			WarningReasons: warnings,
		}
		// an issue adds reasons; it must not reset attributes already seen
		if existing, ok := e.Cookies[cookies.Key(pc)]; ok {
			o.ParsedCookie = existing.ParsedCookie
			o.HeaderType = existing.HeaderType
			o.IsBlocked = existing.IsBlocked || o.IsBlocked
		} else {
			o.IsFirstParty = cookies.FirstParty(pc.Domain, e.URL)
		}
		e.Cookies = cookies.MergeAll(e.Cookies, []cookies.Observation{o})
		records = e.Cookies
		return e
	})
	if errors.Is(err, tabs.ErrTabRemoved) {
		return nil
	}
	if err != nil {
		return err
	}
	h.s.publish(ctx, tabID, records)
	return nil
}

type tabCreatedHandler struct{ s *Service }

func (h tabCreatedHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.TabCreated
	if len(ev.Params) > 0 {
		if err := ev.Decode(&p); err != nil {
			return err
		}
	}
	h.s.correlator.Forget(tabID)
	return h.s.store.Create(ctx, tabID, p.URL)
}

type tabActivatedHandler struct{ s *Service }

func (h tabActivatedHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.TabActivated
	if len(ev.Params) > 0 {
		if err := ev.Decode(&p); err != nil {
			return err
		}
	}
	at := h.s.now()
	if p.At > 0 {
		at = time.UnixMilli(p.At)
	}
	if err := h.s.store.Focus(ctx, tabID, at); err != nil {
		return err
	}
	h.s.setActive(tabID)

	e, err := h.s.store.Get(ctx, tabID)
	if err != nil {
		return err
	}
	h.s.publishBadge(ctx, tabID, cookies.CountBadge(e.Cookies))
	return nil
}

type tabRemovedHandler struct{ s *Service }

func (h tabRemovedHandler) Handle(ctx context.Context, tabID string, _ cdp.Event) error {
	h.s.correlator.Forget(tabID)
	h.s.clearActive(tabID)
	return h.s.store.Remove(ctx, tabID)
}

type panelStateHandler struct{ s *Service }

func (h panelStateHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.TabPanelState
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return h.s.store.SetPanelState(ctx, tabID, p.DevToolsOpen, p.PopupOpen)
}

type mainFrameHandler struct{ s *Service }

func (h mainFrameHandler) Handle(_ context.Context, tabID string, ev cdp.Event) error {
	var p cdp.TabMainFrame
	if err := ev.Decode(&p); err != nil {
		return err
	}
	h.s.correlator.ResolveMainFrame(tabID, p.TargetID)
	return nil
}

type scriptCookiesHandler struct{ s *Service }

func (h scriptCookiesHandler) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.ScriptCookies
	if err := ev.Decode(&p); err != nil {
		return err
	}

	frame := p.FrameID
	if frame == "" {
		frame = frames.MainFrameID
	}
	frameNo := h.s.correlator.FrameNumber(tabID, frame)

	observations := make([]cookies.Observation, 0, len(p.Cookies))
	for _, sc := range p.Cookies {
		pc, ok := cookies.Canonicalize(cookies.FromScriptCookie(sc), p.URL)
		if !ok {
			h.s.drop(tabID, "untrackable", zap.String("cookie", sc.Name))
			continue
		}
		observations = append(observations, cookies.Observation{
			ParsedCookie: pc,
			HeaderType:   cookies.HeaderJavascript,
			URL:          p.URL,
			FrameID:      frame,
			FrameIDList:  []int{frameNo},
		})
	}
	return h.s.merge(ctx, tabID, observations)
}

// navigate starts a new top-level page, dropping the previous page's cookies.
func (s *Service) navigate(ctx context.Context, tabID, url string) error {
	var records map[string]cookies.Record
	err := s.store.Write(ctx, tabID, func(e tabs.Entry) tabs.Entry {
		if e.URL != url {
			e.Cookies = make(map[string]cookies.Record)
		}
		e.URL = url
		records = e.Cookies
		return e
	})
	if errors.Is(err, tabs.ErrTabRemoved) {
		return nil
	}
	if err != nil {
		return err
	}
	s.publish(ctx, tabID, records)
	return nil
}

// handleReleased processes events that were parked until their request's URL
// was known.
func (s *Service) handleReleased(ctx context.Context, tabID string, released []cdp.Event) error {
	var errs []error
	for _, ev := range released {
		var err error
		switch ev.Method {
		case cdp.MethodRequestWillBeSentExtraInfo:
			err = s.requestExtraInfo(ctx, tabID, ev)
		case cdp.MethodResponseReceivedExtraInfo:
			err = s.responseExtraInfo(ctx, tabID, ev)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) park(tabID, requestID string, ev cdp.Event) {
	if dropped := s.correlator.Park(tabID, requestID, ev); dropped != nil {
		s.metrics.RecordDropped("park_overflow")
		s.logger.Warn("Dropped parked event",
			zap.String("tab", tabID),
			zap.String("method", dropped.Method))
	}
}

func (s *Service) requestExtraInfo(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.RequestWillBeSentExtraInfo
	if err := ev.Decode(&p); err != nil {
		return err
	}
	req, ok := s.correlator.Resolve(tabID, p.RequestID)
	if !ok {
		s.park(tabID, p.RequestID, ev)
		return nil
	}

	frameNo := s.correlator.FrameNumber(tabID, req.FrameID)
	observations := make([]cookies.Observation, 0, len(p.AssociatedCookies))
	for _, ac := range p.AssociatedCookies {
		pc, ok := cookies.Canonicalize(cookies.FromCDPCookie(ac.Cookie), req.URL)
		if !ok {
			s.drop(tabID, "untrackable", zap.String("cookie", ac.Cookie.Name))
			continue
		}
		blocked := cookies.BlockedReasonsOf(ac.BlockedReasons)
		observations = append(observations, cookies.Observation{
			ParsedCookie:    pc,
			HeaderType:      cookies.HeaderRequest,
			URL:             req.URL,
			FrameID:         req.FrameID,
			IsBlocked:       len(blocked) > 0,
			BlockedReasons:  blocked,
			ExemptionReason: cookies.ExemptionReason(ac.ExemptionReason),
			FrameIDList:     []int{frameNo},
		})
	}
	return s.merge(ctx, tabID, observations)
}

func (s *Service) responseExtraInfo(ctx context.Context, tabID string, ev cdp.Event) error {
	var p cdp.ResponseReceivedExtraInfo
	if err := ev.Decode(&p); err != nil {
		return err
	}
	req, ok := s.correlator.Resolve(tabID, p.RequestID)
	if !ok {
		s.park(tabID, p.RequestID, ev)
		return nil
	}

	partition := cdp.Cookie{PartitionKey: p.CookiePartitionKey}.PartitionSite()
	blocked := make(map[string][]string, len(p.BlockedCookies))
	for _, b := range p.BlockedCookies {
		line := strings.TrimSpace(b.CookieLine)
		blocked[line] = append(blocked[line], b.BlockedReasons...)
	}
	exempted := make(map[string]string, len(p.ExemptedCookies))
	for _, x := range p.ExemptedCookies {
		exempted[strings.TrimSpace(x.CookieLine)] = x.ExemptionReason
	}

	frameNo := s.correlator.FrameNumber(tabID, req.FrameID)
	now := s.now()
	var observations []cookies.Observation
	add := func(pc cookies.ParsedCookie, line string) {
		if pc.PartitionKey == cookies.PartitionedMarker && partition != "" {
			pc.PartitionKey = partition
		}
		pc, ok := cookies.Canonicalize(pc, req.URL)
		if !ok {
			s.drop(tabID, "untrackable", zap.String("cookie", pc.Name))
			return
		}
		reasons := cookies.BlockedReasonsOf(blocked[line])
		observations = append(observations, cookies.Observation{
			ParsedCookie:    pc,
			HeaderType:      cookies.HeaderResponse,
			URL:             req.URL,
			FrameID:         req.FrameID,
			IsBlocked:       len(reasons) > 0,
			BlockedReasons:  reasons,
			ExemptionReason: cookies.ExemptionReason(exempted[line]),
			FrameIDList:     []int{frameNo},
		})
	}

	seen := make(map[string]bool)
	for _, line := range p.SetCookieLines() {
		seen[line] = true
		pc, ok := cookies.ParseSetCookie(line, now)
		if !ok {
			s.drop(tabID, "unparseable", zap.String("line", line))
			continue
		}
		add(pc, line)
	}

	// blocked lines are not always echoed in the headers
	for _, b := range p.BlockedCookies {
		line := strings.TrimSpace(b.CookieLine)
		if seen[line] {
			continue
		}
		seen[line] = true
		if b.Cookie != nil {
			add(cookies.FromCDPCookie(*b.Cookie), line)
			continue
		}
		pc, ok := cookies.ParseSetCookie(line, now)
		if !ok {
			s.drop(tabID, "unparseable", zap.String("line", line))
			continue
		}
		add(pc, line)
	}

	return s.merge(ctx, tabID, observations)
}
