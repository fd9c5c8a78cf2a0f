package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/cookielens/internal/importer"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/runner"
	"github.com/artpar/cookielens/internal/storage/filesystem"
)

// Constants for pagination and tool deadlines
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	toolTimeout     = 30 * time.Second
	analyzeTimeout  = 5 * time.Minute
)

type paginationParams struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

type paginationResult struct {
	Offset     int  `json:"offset"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	HasMore    bool `json:"has_more"`
	TotalPages int  `json:"total_pages,omitempty"`
}

// applyPagination applies offset and limit to a slice
func applyPagination[T any](items []T, offset, limit int) ([]T, paginationResult) {
	total := len(items)

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	page := paginationResult{
		Offset:     offset,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	if offset >= total {
		return []T{}, page
	}

	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
		page.HasMore = true
	}
	return items, page
}

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(v any) (*ToolCallResult, error) {
	content, err := JSONContent(v)
	if err != nil {
		return nil, err
	}
	return &ToolCallResult{Content: []ContentBlock{content}}, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Tab store tools
	s.registerListTabs()
	s.registerGetTabCookies()
	s.registerSummarizeTab()
	s.registerRemoveTab()
	s.registerStorageUsage()

	// Capture analysis
	s.registerAnalyzeFile()

	// Report archive tools
	s.registerListReports()
	s.registerGetReport()
	s.registerDeleteReport()
}

// ============================================================================
// Tab Store Tools
// ============================================================================

type listTabsArgs struct {
	paginationParams
}

type tabListItem struct {
	TabID      string     `json:"tab_id"`
	URL        string     `json:"url"`
	FocusedAt  *time.Time `json:"focused_at,omitempty"`
	Cookies    int        `json:"cookies"`
	ThirdParty int        `json:"third_party"`
	Blocked    int        `json:"blocked"`
	Badge      int        `json:"badge"`
}

func (s *Server) tabList(ctx context.Context) ([]tabListItem, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	summaries := report.SummarizeAll(entries)
	items := make([]tabListItem, 0, len(summaries))
	for _, t := range summaries {
		items = append(items, tabListItem{
			TabID:      t.TabID,
			URL:        t.URL,
			FocusedAt:  t.FocusedAt,
			Cookies:    t.Total,
			ThirdParty: t.ThirdParty,
			Blocked:    t.Blocked,
			Badge:      t.Badge,
		})
	}
	return items, nil
}

func (s *Server) registerListTabs() {
	schema := `{
		"type": "object",
		"properties": {
			"offset": {"type": "integer", "description": "Number of tabs to skip"},
			"limit": {"type": "integer", "description": "Maximum number of tabs to return (default 50, max 200)"}
		}
	}`

	s.tools["list_tabs"] = &toolDef{
		tool: Tool{
			Name:        "list_tabs",
			Description: "List stored browser tabs with their cookie counts",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params listTabsArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			items, err := s.tabList(ctx)
			if err != nil {
				return nil, err
			}
			page, pagination := applyPagination(items, params.Offset, params.Limit)

			return jsonResult(map[string]any{
				"tabs":       page,
				"pagination": pagination,
			})
		},
	}
}

type getTabCookiesArgs struct {
	TabID  string `json:"tab_id"`
	Party  string `json:"party,omitempty"`
	Status string `json:"status,omitempty"`
	Domain string `json:"domain,omitempty"`
	paginationParams
}

func (a getTabCookiesArgs) matches(row report.CookieRow) bool {
	if a.Party != "" && row.Party != a.Party {
		return false
	}
	if a.Status != "" && row.Status != a.Status {
		return false
	}
	if a.Domain != "" && !strings.HasSuffix(strings.TrimPrefix(row.Domain, "."), strings.TrimPrefix(a.Domain, ".")) {
		return false
	}
	return true
}

func (s *Server) registerGetTabCookies() {
	schema := `{
		"type": "object",
		"properties": {
			"tab_id": {"type": "string", "description": "Tab identifier"},
			"party": {"type": "string", "enum": ["first", "third", "unknown"], "description": "Only cookies of this party"},
			"status": {"type": "string", "enum": ["allowed", "blocked", "exempted"], "description": "Only cookies with this status"},
			"domain": {"type": "string", "description": "Only cookies whose domain ends with this value"},
			"offset": {"type": "integer"},
			"limit": {"type": "integer"}
		},
		"required": ["tab_id"]
	}`

	s.tools["get_tab_cookies"] = &toolDef{
		tool: Tool{
			Name:        "get_tab_cookies",
			Description: "List the reconciled cookies recorded for a tab",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params getTabCookiesArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if params.TabID == "" {
				return nil, fmt.Errorf("tab_id is required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			entry, err := s.store.Get(ctx, params.TabID)
			if err != nil {
				return nil, err
			}
			summary := report.Summarize(params.TabID, entry)

			rows := make([]report.CookieRow, 0, len(summary.Cookies))
			for _, row := range summary.Cookies {
				if params.matches(row) {
					rows = append(rows, row)
				}
			}
			page, pagination := applyPagination(rows, params.Offset, params.Limit)

			return jsonResult(map[string]any{
				"tab_id":     params.TabID,
				"url":        entry.URL,
				"cookies":    page,
				"pagination": pagination,
			})
		},
	}
}

type tabIDArgs struct {
	TabID string `json:"tab_id"`
}

func (s *Server) registerSummarizeTab() {
	schema := `{
		"type": "object",
		"properties": {
			"tab_id": {"type": "string", "description": "Tab identifier"}
		},
		"required": ["tab_id"]
	}`

	s.tools["summarize_tab"] = &toolDef{
		tool: Tool{
			Name:        "summarize_tab",
			Description: "Summarize a tab's cookies by party, status, source and blocked reason",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params tabIDArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if params.TabID == "" {
				return nil, fmt.Errorf("tab_id is required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			entry, err := s.store.Get(ctx, params.TabID)
			if err != nil {
				return nil, err
			}
			summary := report.Summarize(params.TabID, entry)
			summary.Cookies = nil

			return jsonResult(summary)
		},
	}
}

func (s *Server) registerRemoveTab() {
	schema := `{
		"type": "object",
		"properties": {
			"tab_id": {"type": "string", "description": "Tab identifier"}
		},
		"required": ["tab_id"]
	}`

	s.tools["remove_tab"] = &toolDef{
		tool: Tool{
			Name:        "remove_tab",
			Description: "Delete a tab's stored cookies. Late events for the tab are ignored afterwards",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params tabIDArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if params.TabID == "" {
				return nil, fmt.Errorf("tab_id is required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			if err := s.store.Remove(ctx, params.TabID); err != nil {
				return nil, fmt.Errorf("failed to remove tab: %w", err)
			}
			return &ToolCallResult{
				Content: []ContentBlock{TextContent(fmt.Sprintf("Removed tab %s", params.TabID))},
			}, nil
		},
	}
}

func (s *Server) registerStorageUsage() {
	s.tools["storage_usage"] = &toolDef{
		tool: Tool{
			Name:        "storage_usage",
			Description: "Report bytes in use against the storage quota",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		handler: func(json.RawMessage) (*ToolCallResult, error) {
			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			usage, err := s.store.Usage(ctx)
			if err != nil {
				return nil, err
			}
			return jsonResult(usage)
		},
	}
}

// ============================================================================
// Capture Analysis
// ============================================================================

type analyzeFileArgs struct {
	Paths  []string `json:"paths"`
	Format string   `json:"format,omitempty"`
	Save   bool     `json:"save,omitempty"`
}

type analyzeFileResult struct {
	Path     string   `json:"path"`
	Format   string   `json:"format,omitempty"`
	Events   int      `json:"events"`
	Failed   int      `json:"failed_events"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func (s *Server) registerAnalyzeFile() {
	schema := `{
		"type": "object",
		"properties": {
			"paths": {
				"type": "array",
				"items": {"type": "string"},
				"description": "HAR files or recorded event logs to analyze"
			},
			"format": {
				"type": "string",
				"enum": ["auto", "har", "cdp"],
				"description": "Input format (default: detect)"
			},
			"save": {
				"type": "boolean",
				"description": "Store the report in the archive"
			}
		},
		"required": ["paths"]
	}`

	s.tools["analyze_file"] = &toolDef{
		tool: Tool{
			Name:        "analyze_file",
			Description: "Replay captures into a scratch store and report the cookies each tab saw",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params analyzeFileArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if len(params.Paths) == 0 {
				return nil, fmt.Errorf("paths is required")
			}

			ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
			defer cancel()

			summary, err := runner.NewRunner(params.Paths,
				runner.WithFormat(importer.Format(params.Format)),
				runner.WithRegistry(s.registry),
				runner.WithQuota(s.quota),
				runner.WithLogger(s.logger),
				runner.WithMetrics(s.metrics)).Run(ctx)
			if err != nil {
				return nil, err
			}

			files := make([]analyzeFileResult, 0, len(summary.Results))
			for _, res := range summary.Results {
				item := analyzeFileResult{
					Path:     res.Path,
					Format:   string(res.Format),
					Events:   res.Events,
					Failed:   res.Failed,
					Warnings: res.Warnings,
				}
				if res.Error != nil {
					item.Error = res.Error.Error()
				}
				files = append(files, item)
			}

			if params.Save {
				if err := s.reports.Save(ctx, summary.Report); err != nil {
					return nil, err
				}
			}

			return jsonResult(map[string]any{
				"report_id": summary.Report.ID,
				"saved":     params.Save,
				"files":     files,
				"totals":    summary.Report.Totals(),
				"tabs":      summary.Report.Tabs,
			})
		},
	}
}

// ============================================================================
// Report Archive Tools
// ============================================================================

type listReportsArgs struct {
	Query string `json:"query,omitempty"`
	paginationParams
}

func (s *Server) registerListReports() {
	schema := `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Only reports whose sources, tabs or URLs contain this text"},
			"offset": {"type": "integer"},
			"limit": {"type": "integer"}
		}
	}`

	s.tools["list_reports"] = &toolDef{
		tool: Tool{
			Name:        "list_reports",
			Description: "List saved reports, newest first",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params listReportsArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}

			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			var metas []filesystem.ReportMeta
			var err error
			if params.Query != "" {
				metas, err = s.reports.Search(ctx, params.Query)
			} else {
				metas, err = s.reports.List(ctx)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to list reports: %w", err)
			}
			if metas == nil {
				metas = []filesystem.ReportMeta{}
			}
			page, pagination := applyPagination(metas, params.Offset, params.Limit)

			return jsonResult(map[string]any{
				"reports":    page,
				"pagination": pagination,
			})
		},
	}
}

type reportIDArgs struct {
	ID string `json:"id"`
}

func (s *Server) registerGetReport() {
	schema := `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Report ID"}
		},
		"required": ["id"]
	}`

	s.tools["get_report"] = &toolDef{
		tool: Tool{
			Name:        "get_report",
			Description: "Get a saved report with every tab and cookie",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params reportIDArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if params.ID == "" {
				return nil, fmt.Errorf("id is required")
			}

			r, err := s.reports.Get(context.Background(), params.ID)
			if err != nil {
				return nil, err
			}
			return jsonResult(r)
		},
	}
}

func (s *Server) registerDeleteReport() {
	schema := `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Report ID"}
		},
		"required": ["id"]
	}`

	s.tools["delete_report"] = &toolDef{
		tool: Tool{
			Name:        "delete_report",
			Description: "Delete a saved report",
			InputSchema: json.RawMessage(schema),
		},
		handler: func(args json.RawMessage) (*ToolCallResult, error) {
			var params reportIDArgs
			if err := decodeArgs(args, &params); err != nil {
				return nil, err
			}
			if params.ID == "" {
				return nil, fmt.Errorf("id is required")
			}

			err := s.reports.Delete(context.Background(), params.ID)
			if errors.Is(err, filesystem.ErrReportNotFound) {
				return nil, fmt.Errorf("report not found: %s", params.ID)
			}
			if err != nil {
				return nil, err
			}
			return &ToolCallResult{
				Content: []ContentBlock{TextContent(fmt.Sprintf("Deleted report %s", params.ID))},
			}, nil
		},
	}
}
