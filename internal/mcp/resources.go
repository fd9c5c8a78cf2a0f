package mcp

import (
	"context"
	"encoding/json"
)

const (
	tabsResourceURI    = "tabs://list"
	reportsResourceURI = "reports://recent"
	recentReports      = 20
)

// registerResources registers all MCP resources
func (s *Server) registerResources() {
	s.resources[tabsResourceURI] = &resourceDef{
		resource: Resource{
			URI:         tabsResourceURI,
			Name:        "Tabs",
			Description: "Stored tabs with cookie counts and storage usage",
			MimeType:    "application/json",
		},
		handler: func() (*ResourceReadResult, error) {
			ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
			defer cancel()

			items, err := s.tabList(ctx)
			if err != nil {
				return nil, err
			}
			usage, err := s.store.Usage(ctx)
			if err != nil {
				return nil, err
			}
			return jsonResource(tabsResourceURI, map[string]any{"tabs": items, "usage": usage})
		},
	}

	s.resources[reportsResourceURI] = &resourceDef{
		resource: Resource{
			URI:         reportsResourceURI,
			Name:        "Recent Reports",
			Description: "The most recently saved reports",
			MimeType:    "application/json",
		},
		handler: func() (*ResourceReadResult, error) {
			metas, err := s.reports.List(context.Background())
			if err != nil {
				return nil, err
			}
			if len(metas) > recentReports {
				metas = metas[:recentReports]
			}
			return jsonResource(reportsResourceURI, map[string]any{"reports": metas})
		},
	}
}

func jsonResource(uri string, v any) (*ResourceReadResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ResourceReadResult{
		Contents: []ResourceContent{
			{URI: uri, MimeType: "application/json", Text: string(data)},
		},
	}, nil
}
