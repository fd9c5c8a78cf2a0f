package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// VisitResult describes one crawled URL.
type VisitResult struct {
	URL      string `json:"url"`
	TabID    string `json:"tabId,omitempty"`
	Status   int    `json:"status,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Network errors that mean the page does not exist.
var missingPageErrors = []string{
	"ERR_NAME_NOT_RESOLVED",
	"ERR_NAME_RESOLUTION_FAILED",
	"ERR_ADDRESS_UNREACHABLE",
	"ERR_CONNECTION_REFUSED",
	"ERR_INVALID_URL",
}

// classifyNavigation maps a navigation error onto the crawl outcomes: nil
// for success, timedOut for a deadline (not an error), ErrPageNotFound for
// unreachable pages, and the error itself otherwise.
func classifyNavigation(err error) (timedOut bool, out error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, nil
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		for _, reason := range missingPageErrors {
			if strings.Contains(navErr.Reason, reason) {
				return false, fmt.Errorf("%w: %s", ErrPageNotFound, navErr.Reason)
			}
		}
	}
	return false, err
}

// Visit opens url in a new tab, captures its events until the page has
// loaded or the navigation timeout passes, then closes the tab. Its cookies
// stay in the sink's store under the returned tab id.
func (c *Capture) Visit(ctx context.Context, url string) (VisitResult, error) {
	res := VisitResult{URL: url}
	b, err := c.current()
	if err != nil {
		return res, err
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return res, fmt.Errorf("failed to open tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Debug("Failed to close tab", zap.String("url", url), zap.Error(err))
		}
	}()

	id, err := c.Attach(ctx, page)
	if err != nil {
		return res, err
	}
	res.TabID = id
	defer c.detach(id)

	c.mu.Lock()
	t := c.tabs[id]
	c.mu.Unlock()

	timeout := c.cfg.NavigationTimeout
	timedOut, err := classifyNavigation(page.Context(ctx).Timeout(timeout).Navigate(url))
	if err != nil {
		return res, err
	}
	if !timedOut {
		timedOut, err = classifyNavigation(page.Context(ctx).Timeout(timeout).WaitLoad())
		if err != nil {
			return res, err
		}
	}
	if timedOut {
		res.TimedOut = true
		c.logger.Warn("Navigation timed out, keeping partial capture",
			zap.String("url", url),
			zap.Duration("timeout", timeout))
	}

	if t != nil {
		res.Status = t.status()
		if err := c.poll(ctx, t); err != nil && ctx.Err() == nil {
			c.logger.Debug("cookieStore poll failed", zap.String("tab", id), zap.Error(err))
		}
	}
	if res.Status == http.StatusNotFound || res.Status == http.StatusGone {
		return res, fmt.Errorf("%w: %s returned %d", ErrPageNotFound, url, res.Status)
	}
	return res, nil
}

// Crawl visits urls with at most the configured number of tabs open at once.
// Missing pages and failed visits are logged and reported in the results;
// only cancellation stops the crawl.
func (c *Capture) Crawl(ctx context.Context, urls []string) ([]VisitResult, error) {
	return crawl(ctx, urls, c.cfg.Concurrency, c.Visit, c.logger)
}

type visitFunc func(ctx context.Context, url string) (VisitResult, error)

func crawl(ctx context.Context, urls []string, limit int, visit visitFunc, logger *zap.Logger) ([]VisitResult, error) {
	if limit < 1 {
		limit = 1
	}
	results := make([]VisitResult, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, url := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := visit(gctx, url)
			res.URL = url
			switch {
			case err == nil:
			case errors.Is(err, ErrPageNotFound):
				logger.Warn("Skipping missing page", zap.String("url", url), zap.Error(err))
				res.Skipped = true
				res.Error = err.Error()
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				logger.Warn("Visit failed", zap.String("url", url), zap.Error(err))
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
