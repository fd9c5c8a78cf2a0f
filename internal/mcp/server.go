package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/importer"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/storage/filesystem"
	"github.com/artpar/cookielens/internal/storage/sqlite"
	"github.com/artpar/cookielens/internal/tabs"
)

// Version is reported to clients in the initialize response.
var Version = "dev"

// Server serves the tab store and report archive to MCP clients.
type Server struct {
	transport Transport
	store     *tabs.Store
	ownsStore bool
	reports   *filesystem.ReportStore
	registry  *importer.Registry
	quota     int64
	logger    *zap.Logger
	metrics   *metrics.Metrics

	tools     map[string]*toolDef
	resources map[string]*resourceDef

	initialized bool
	mu          sync.RWMutex
}

type toolDef struct {
	tool    Tool
	handler func(json.RawMessage) (*ToolCallResult, error)
}

type resourceDef struct {
	resource Resource
	handler  func() (*ResourceReadResult, error)
}

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	// DataDir holds tabs.db and the reports directory.
	DataDir    string
	QuotaBytes int64

	// Store overrides the store opened from DataDir. It is not closed by
	// Server.Close.
	Store *tabs.Store

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewServer opens the stores under config.DataDir and registers every tool
// and resource.
func NewServer(config ServerConfig) (*Server, error) {
	if config.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reports, err := filesystem.NewReportStore(filepath.Join(config.DataDir, "reports"))
	if err != nil {
		return nil, fmt.Errorf("failed to create report store: %w", err)
	}

	s := &Server{
		store:     config.Store,
		reports:   reports,
		registry:  importer.NewDefaultRegistry(),
		quota:     config.QuotaBytes,
		logger:    logger,
		metrics:   config.Metrics,
		tools:     make(map[string]*toolDef),
		resources: make(map[string]*resourceDef),
	}

	if s.store == nil {
		backend, err := sqlite.New(filepath.Join(config.DataDir, "tabs.db"), config.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open tab store: %w", err)
		}
		s.store = tabs.NewStore(backend, tabs.WithLogger(logger), tabs.WithMetrics(config.Metrics))
		s.ownsStore = true
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves requests from stdin until EOF or cancellation.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	s.transport = NewStdioTransport(stdin, stdout)
	s.logger.Info("MCP server started", zap.Int("tools", len(s.tools)))
	return MessageLoop(ctx, s.transport, s.handleRequest, s.logger)
}

func (s *Server) handleRequest(req *Request) *Response {
	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req)
	case MethodInitialized, MethodCancelled:
		return nil
	case MethodPing:
		return resultResponse(map[string]any{})
	case MethodToolsList:
		return s.handleToolsList(req)
	case MethodToolsCall:
		return s.handleToolsCall(req)
	case MethodResourcesList:
		return s.handleResourcesList(req)
	case MethodResourcesRead:
		return s.handleResourcesRead(req)
	default:
		return errorResponse(MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(InvalidParams, "Invalid initialize params: "+err.Error())
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Debug("Client initialized",
		zap.String("client", params.ClientInfo.Name),
		zap.String("protocol", params.ProtocolVersion))

	return resultResponse(InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    "cookielens",
			Version: Version,
		},
	})
}

func (s *Server) handleToolsList(*Request) *Response {
	tools := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, t.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return resultResponse(ToolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(InvalidParams, "Invalid tool call params: "+err.Error())
	}

	def, ok := s.tools[params.Name]
	if !ok {
		return errorResponse(InvalidParams, fmt.Sprintf("Unknown tool: %s", params.Name))
	}

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := def.handler(args)
	if err != nil {
		s.logger.Debug("Tool failed", zap.String("tool", params.Name), zap.Error(err))
		result = &ToolCallResult{
			Content: []ContentBlock{ErrorContent(err)},
			IsError: true,
		}
	}
	return resultResponse(result)
}

func (s *Server) handleResourcesList(*Request) *Response {
	resources := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		resources = append(resources, r.resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resultResponse(ResourcesListResult{Resources: resources})
}

func (s *Server) handleResourcesRead(req *Request) *Response {
	var params ResourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(InvalidParams, "Invalid resource read params: "+err.Error())
	}

	def, ok := s.resources[params.URI]
	if !ok {
		return errorResponse(InvalidParams, fmt.Sprintf("Unknown resource: %s", params.URI))
	}

	result, err := def.handler()
	if err != nil {
		return errorResponse(InternalError, err.Error())
	}
	return resultResponse(result)
}

// Close closes the tab store if the server opened it.
func (s *Server) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}
