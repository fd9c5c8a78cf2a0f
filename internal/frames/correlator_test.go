package frames

import (
	"testing"

	"github.com/artpar/cookielens/internal/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_FrameNumbers(t *testing.T) {
	c := New()

	assert.Equal(t, MainFrameNumber, c.FrameNumber("1", ""))
	assert.Equal(t, MainFrameNumber, c.FrameNumber("1", MainFrameID))

	child := c.FrameNumber("1", "F2")
	assert.NotEqual(t, MainFrameNumber, child)
	assert.Equal(t, child, c.FrameNumber("1", "F2"), "numbers are stable")

	// numbering is per tab
	assert.Equal(t, child, c.FrameNumber("2", "OTHER"))
}

func TestCorrelator_TrackAndResolve(t *testing.T) {
	c := New()

	_, ok := c.Resolve("1", "R1")
	assert.False(t, ok)

	c.TrackRequest("1", "R1", "", "https://a.com/")
	req, ok := c.Resolve("1", "R1")
	require.True(t, ok)
	assert.Equal(t, MainFrameID, req.FrameID)
	assert.Equal(t, "https://a.com/", req.URL)

	t.Run("later sightings keep known fields", func(t *testing.T) {
		c.TrackRequest("1", "R1", "", "")
		req, ok := c.Resolve("1", "R1")
		require.True(t, ok)
		assert.Equal(t, "https://a.com/", req.URL)
	})

	t.Run("unknown frames are registered lazily", func(t *testing.T) {
		c.TrackRequest("1", "R2", "LATE", "https://b.com/")
		req, ok := c.Resolve("1", "R2")
		require.True(t, ok)
		assert.Equal(t, "LATE", req.FrameID)
		assert.Equal(t, "LATE", c.TopFrame("1", "LATE"))

		// attachment arrives afterwards
		c.Attach("1", "LATE", "")
		assert.Equal(t, "LATE", c.TopFrame("1", "LATE"))
		c.Attach("1", "LATE", "F1")
		assert.Equal(t, "F1", c.TopFrame("1", "LATE"))
	})
}

func TestCorrelator_ParkedEventsReleaseOnTrack(t *testing.T) {
	c := New()
	ev := cdp.Event{Method: cdp.MethodResponseReceivedExtraInfo, TabID: "1"}

	assert.Nil(t, c.Park("1", "R1", ev))
	assert.Nil(t, c.Park("1", "R1", ev))
	assert.Equal(t, 2, c.Parked("1"))

	// tracking without a URL keeps them parked
	assert.Empty(t, c.TrackRequest("1", "R1", "F1", ""))
	assert.Equal(t, 2, c.Parked("1"))

	released := c.TrackRequest("1", "R1", "F1", "https://a.com/")
	assert.Len(t, released, 2)
	assert.Equal(t, 0, c.Parked("1"))

	assert.Empty(t, c.TrackRequest("1", "R1", "F1", "https://a.com/"))
}

func TestCorrelator_ParkIsBounded(t *testing.T) {
	c := New(WithMaxParked(2))

	assert.Nil(t, c.Park("1", "R1", cdp.Event{Method: "first"}))
	assert.Nil(t, c.Park("1", "R2", cdp.Event{Method: "second"}))
	dropped := c.Park("1", "R3", cdp.Event{Method: "third"})
	require.NotNil(t, dropped)
	assert.Equal(t, "first", dropped.Method)
	assert.Equal(t, 2, c.Parked("1"))

	assert.Empty(t, c.TrackRequest("1", "R1", "", "https://a.com/"))
	assert.Len(t, c.TrackRequest("1", "R3", "", "https://a.com/"), 1)
}

func TestCorrelator_RequestsAreBounded(t *testing.T) {
	c := New(WithMaxRequests(2))
	c.TrackRequest("1", "R1", "", "https://a.com/1")
	c.TrackRequest("1", "R2", "", "https://a.com/2")
	c.TrackRequest("1", "R3", "", "https://a.com/3")

	_, ok := c.Resolve("1", "R1")
	assert.False(t, ok)
	_, ok = c.Resolve("1", "R3")
	assert.True(t, ok)
}

func TestCorrelator_ResolveMainFrame(t *testing.T) {
	c := New()

	c.Attach("1", "CHILD", "TARGET")
	c.TrackRequest("1", "R1", "TARGET", "https://a.com/")
	assert.Equal(t, "TARGET", c.TopFrame("1", "CHILD"))

	c.ResolveMainFrame("1", "TARGET")
	assert.Equal(t, "TARGET", c.MainTarget("1"))
	assert.Equal(t, MainFrameID, c.TopFrame("1", "CHILD"))
	assert.Equal(t, MainFrameNumber, c.FrameNumber("1", "TARGET"))

	req, ok := c.Resolve("1", "R1")
	require.True(t, ok)
	assert.Equal(t, MainFrameID, req.FrameID)

	// an attachment naming the top-level target as a child is ignored
	c.Attach("1", "TARGET", "CHILD")
	assert.Equal(t, MainFrameID, c.TopFrame("1", "CHILD"))
}

func TestCorrelator_TopFrameTerminatesOnCycles(t *testing.T) {
	c := New()
	c.Attach("1", "A", "B")
	c.Attach("1", "B", "A")

	top := c.TopFrame("1", "A")
	assert.Contains(t, []string{"A", "B"}, top)
}

func TestCorrelator_Forget(t *testing.T) {
	c := New()
	c.TrackRequest("1", "R1", "", "https://a.com/")
	c.Park("1", "R2", cdp.Event{})
	c.Forget("1")

	_, ok := c.Resolve("1", "R1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Parked("1"))
	assert.Empty(t, c.MainTarget("1"))
}

func TestCorrelator_IsTopLevel(t *testing.T) {
	c := New()

	assert.True(t, c.IsTopLevel("1", ""))
	assert.True(t, c.IsTopLevel("1", "PAGE"), "unattached frames are top-level")

	c.Attach("1", "IFRAME", "PAGE")
	assert.False(t, c.IsTopLevel("1", "IFRAME"))

	c.ResolveMainFrame("1", "PAGE")
	assert.True(t, c.IsTopLevel("1", "PAGE"))
	assert.False(t, c.IsTopLevel("1", "IFRAME"))
	assert.False(t, c.IsTopLevel("1", "LATE"), "unattached frames are subframes once the page is known")
	assert.True(t, c.IsTopLevel("1", ""))
}
