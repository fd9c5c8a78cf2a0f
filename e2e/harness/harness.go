// Package harness provides E2E testing utilities for cookielens.
package harness

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/cookielens/e2e/testserver"
)

// E2EHarness is the main test orchestrator.
type E2EHarness struct {
	t       *testing.T
	site    *testserver.Server
	tmpDir  string
	timeout time.Duration
}

// Config configures the harness.
type Config struct {
	SiteRoutes map[string]http.HandlerFunc
	Timeout    time.Duration // Default: 10 seconds
}

// New creates a new E2E harness with a fresh data directory.
func New(t *testing.T, cfg Config) *E2EHarness {
	t.Helper()

	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	h := &E2EHarness{
		t:       t,
		tmpDir:  t.TempDir(),
		timeout: cfg.Timeout,
	}

	if len(cfg.SiteRoutes) > 0 {
		h.site = testserver.New(cfg.SiteRoutes)
		t.Cleanup(h.site.Close)
	}

	return h
}

// Site returns the test site, or nil when no routes were configured.
func (h *E2EHarness) Site() *testserver.Server {
	return h.site
}

// SiteURL returns the test site URL for path.
func (h *E2EHarness) SiteURL(path string) string {
	if h.site == nil {
		return ""
	}
	return h.site.URL + path
}

// DataDir returns the data directory the CLI runs against.
func (h *E2EHarness) DataDir() string {
	return filepath.Join(h.tmpDir, "data")
}

// WriteFile writes a fixture into the temporary directory and returns its
// path.
func (h *E2EHarness) WriteFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.tmpDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// Timeout returns the configured timeout.
func (h *E2EHarness) Timeout() time.Duration {
	return h.timeout
}

// T returns the testing.T instance.
func (h *E2EHarness) T() *testing.T {
	return h.t
}

// CLI returns a CLI runner for this harness.
func (h *E2EHarness) CLI() *CLIRunner {
	return &CLIRunner{harness: h}
}
