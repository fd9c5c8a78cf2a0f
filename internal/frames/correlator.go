// Package frames correlates network requests with the frames, and ultimately
// the page, that issued them.
package frames

import (
	"sync"

	"github.com/artpar/cookielens/internal/cdp"
)

const (
	// RootFrameID is the parent of a tab's top-level frame. Tree walks stop here.
	RootFrameID = "root"

	// MainFrameID stands in for the top-level frame when an event carries no
	// frame id or the top-level target is not yet known.
	MainFrameID = "main"

	// MainFrameNumber is the numeric id of the top-level frame.
	MainFrameNumber = 0
)

const (
	defaultMaxParked   = 256
	defaultMaxRequests = 10000
)

// Request is what the correlator knows about a network request.
type Request struct {
	FrameID string
	URL     string
}

// Correlator tracks frame trees and request ownership per tab. It is safe for
// concurrent use.
type Correlator struct {
	mu          sync.Mutex
	tabs        map[string]*tabState
	maxParked   int
	maxRequests int
}

type tabState struct {
	parents    map[string]string
	numbers    map[string]int
	next       int
	mainTarget string

	requests     map[string]Request
	requestOrder []string

	parked      map[string][]cdp.Event
	parkedOrder []string
	parkedCount int
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithMaxParked bounds the number of events parked per tab while waiting for
// their request to be identified.
func WithMaxParked(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.maxParked = n
		}
	}
}

// WithMaxRequests bounds the number of requests remembered per tab.
func WithMaxRequests(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.maxRequests = n
		}
	}
}

// New creates a Correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		tabs:        make(map[string]*tabState),
		maxParked:   defaultMaxParked,
		maxRequests: defaultMaxRequests,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Correlator) tab(tabID string) *tabState {
	st, ok := c.tabs[tabID]
	if !ok {
		st = &tabState{
			parents:  map[string]string{MainFrameID: RootFrameID},
			numbers:  map[string]int{MainFrameID: MainFrameNumber},
			next:     MainFrameNumber + 1,
			requests: make(map[string]Request),
			parked:   make(map[string][]cdp.Event),
		}
		c.tabs[tabID] = st
	}
	return st
}

func (st *tabState) canonical(frameID string) string {
	if frameID == "" || frameID == st.mainTarget {
		return MainFrameID
	}
	return frameID
}

func (st *tabState) register(frameID string) int {
	frameID = st.canonical(frameID)
	if n, ok := st.numbers[frameID]; ok {
		return n
	}
	n := st.next
	st.next++
	st.numbers[frameID] = n
	return n
}

// Attach records a frame-attachment. A frame without a parent hangs off the
// root.
func (c *Correlator) Attach(tabID, frameID, parentFrameID string) {
	if frameID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	frame := st.canonical(frameID)
	if frame == MainFrameID {
		// the top-level frame always hangs off the root
		return
	}
	st.register(frame)
	if parentFrameID == "" {
		st.parents[frame] = RootFrameID
		return
	}
	parent := st.canonical(parentFrameID)
	st.register(parent)
	st.parents[frame] = parent
}

// TrackRequest records which frame issued a request and its URL. Events parked
// for the request are returned so the caller can process them now.
func (c *Correlator) TrackRequest(tabID, requestID, frameID, url string) []cdp.Event {
	if requestID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	frame := st.canonical(frameID)
	st.register(frame)

	prev, known := st.requests[requestID]
	req := Request{FrameID: frame, URL: url}
	if url == "" {
		req.URL = prev.URL
	}
	if frameID == "" && known {
		req.FrameID = prev.FrameID
	}
	if !known {
		st.requestOrder = append(st.requestOrder, requestID)
		if len(st.requestOrder) > c.maxRequests {
			oldest := st.requestOrder[0]
			st.requestOrder = st.requestOrder[1:]
			delete(st.requests, oldest)
		}
	}
	st.requests[requestID] = req

	if req.URL == "" {
		return nil
	}
	released := st.parked[requestID]
	if len(released) > 0 {
		delete(st.parked, requestID)
		st.parkedCount -= len(released)
		order := st.parkedOrder[:0]
		for _, id := range st.parkedOrder {
			if id != requestID {
				order = append(order, id)
			}
		}
		st.parkedOrder = order
	}
	return released
}

// Resolve returns the request's frame and URL. Requests whose URL is not yet
// known are reported as unresolved.
func (c *Correlator) Resolve(tabID, requestID string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.tabs[tabID]
	if !ok {
		return Request{}, false
	}
	req, ok := st.requests[requestID]
	if !ok || req.URL == "" {
		return Request{}, false
	}
	return req, true
}

// Park holds an event until its request is tracked. When the per-tab bound is
// exceeded the oldest parked event is discarded and returned.
func (c *Correlator) Park(tabID, requestID string, ev cdp.Event) (dropped *cdp.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	st.parked[requestID] = append(st.parked[requestID], ev)
	st.parkedOrder = append(st.parkedOrder, requestID)
	st.parkedCount++

	for st.parkedCount > c.maxParked && len(st.parkedOrder) > 0 {
		oldest := st.parkedOrder[0]
		st.parkedOrder = st.parkedOrder[1:]
		queue := st.parked[oldest]
		if len(queue) == 0 {
			continue
		}
		d := queue[0]
		dropped = &d
		if len(queue) == 1 {
			delete(st.parked, oldest)
		} else {
			st.parked[oldest] = queue[1:]
		}
		st.parkedCount--
	}
	return dropped
}

// Parked returns the number of events waiting for their request.
func (c *Correlator) Parked(tabID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.tabs[tabID]; ok {
		return st.parkedCount
	}
	return 0
}

// FrameNumber returns the stable numeric id of a frame within its tab,
// registering unknown frames lazily.
func (c *Correlator) FrameNumber(tabID, frameID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab(tabID).register(frameID)
}

// ResolveMainFrame marks targetID as the tab's top-level frame: its parent is
// overwritten with the root sentinel and it becomes an alias of the main
// frame.
func (c *Correlator) ResolveMainFrame(tabID, targetID string) {
	if targetID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	st.mainTarget = targetID
	delete(st.numbers, targetID)
	delete(st.parents, targetID)
	st.parents[MainFrameID] = RootFrameID

	// children attached under the raw target id now belong to the main frame
	for frame, parent := range st.parents {
		if parent == targetID {
			st.parents[frame] = MainFrameID
		}
	}
	for id, req := range st.requests {
		if req.FrameID == targetID {
			req.FrameID = MainFrameID
			st.requests[id] = req
		}
	}
}

// MainTarget returns the tab's resolved top-level target id, if any.
func (c *Correlator) MainTarget(tabID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.tabs[tabID]; ok {
		return st.mainTarget
	}
	return ""
}

// TopFrame walks up from frameID and returns the outermost known ancestor.
// Walks stop at the root sentinel, at a frame whose parent is unknown, or on a
// cycle.
func (c *Correlator) TopFrame(tabID, frameID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	current := st.canonical(frameID)
	seen := map[string]bool{current: true}
	for {
		parent, ok := st.parents[current]
		if !ok || parent == RootFrameID || seen[parent] {
			return current
		}
		seen[parent] = true
		current = parent
	}
}

// IsTopLevel reports whether frameID is the tab's top-level frame. Once the
// main target is resolved only it (or the main frame sentinel) qualifies, so a
// subframe whose attach event is still in flight is not mistaken for the page.
// Before that, a frame never attached under a parent is assumed top-level.
func (c *Correlator) IsTopLevel(tabID, frameID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.tab(tabID)
	frame := st.canonical(frameID)
	if frame == MainFrameID {
		return true
	}
	if st.mainTarget != "" {
		return false
	}
	parent, ok := st.parents[frame]
	return !ok || parent == RootFrameID
}

// Forget drops all state for a tab.
func (c *Correlator) Forget(tabID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tabs, tabID)
}
