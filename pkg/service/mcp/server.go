package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/orchestrator"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "mnemo"

// Server exposes the orchestrator API as MCP tools
type Server struct {
	orch    *orchestrator.Orchestrator
	server  *mcp.Server
	version string
}

type ServerOption func(*Server)

func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

type queryInput struct {
	Query string `json:"query"`
}

type processInput struct {
	Query       string             `json:"query"`
	Suggestions []model.Suggestion `json:"suggestions,omitempty"`
}

type markInput struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Context   string `json:"context,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

type emptyInput struct{}

type enhanceInput struct {
	BasePrompt  string                 `json:"base_prompt"`
	Query       string                 `json:"query"`
	Snapshot    *model.ContextSnapshot `json:"snapshot,omitempty"`
	Suggestions []model.Suggestion     `json:"suggestions,omitempty"`
}

type confidenceInput struct {
	Query  string   `json:"query"`
	Labels []string `json:"labels"`
}

type forgetInput struct {
	ID string `json:"id"`
}

// NewServer registers every tool on a fresh MCP server
func NewServer(orch *orchestrator.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		orch:    orch,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: s.version,
	}, nil)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "preprocess",
		Description: "Normalize a query, fix spelling and list synonym expansions",
		InputSchema: queryInputSchema,
	}, s.preprocess)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "process",
		Description: "Assemble the full prompt for a user query with relevant context, memories and conversation",
		InputSchema: processInputSchema,
	}, s.process)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "mark_as_important",
		Description: "Remember a piece of a conversation for later prompts",
		InputSchema: markInputSchema,
	}, s.markAsImportant)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "forget_memory",
		Description: "Forget a remembered item so it is never used again",
		InputSchema: forgetInputSchema,
	}, s.forgetMemory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_context_for_prompt",
		Description: "Render remembered items and the recent conversation summary",
		InputSchema: emptyInputSchema,
	}, s.getContextForPrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "build_enhanced_prompt",
		Description: "Append the context relevant to a query to a base prompt",
		InputSchema: enhanceInputSchema,
	}, s.buildEnhancedPrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "semantic_confidence",
		Description: "Score labels against a query by embedding similarity",
		InputSchema: confidenceInputSchema,
	}, s.semanticConfidence)

	return s
}

// MCP returns the underlying server, for in-process transports
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	logging.From(ctx).Info("MCP server started", "transport", "stdio")
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return textResult(string(raw)), nil
}

func (s *Server) preprocess(ctx context.Context, req *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, any, error) {
	result, err := jsonResult(s.orch.Preprocess(in.Query))
	return result, nil, err
}

func (s *Server) process(ctx context.Context, req *mcp.CallToolRequest, in processInput) (*mcp.CallToolResult, any, error) {
	prompt, err := s.orch.Process(ctx, in.Query, in.Suggestions)
	if err != nil {
		return nil, nil, err
	}
	result, err := jsonResult(prompt)
	return result, nil, err
}

func (s *Server) markAsImportant(ctx context.Context, req *mcp.CallToolRequest, in markInput) (*mcp.CallToolResult, any, error) {
	var tags []string
	if in.Tag != "" {
		tags = append(tags, in.Tag)
	}
	mem, err := s.orch.MarkAsImportant(ctx, model.MessageID(in.MessageID), in.Content, in.Context, tags...)
	if err != nil {
		return nil, nil, err
	}
	result, err := jsonResult(mem)
	return result, nil, err
}

func (s *Server) forgetMemory(ctx context.Context, req *mcp.CallToolRequest, in forgetInput) (*mcp.CallToolResult, any, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, nil, goerr.Wrap(model.ErrValidation, "memory id is empty")
	}
	if err := s.orch.Store().ForgetMemory(ctx, model.MemoryID(id)); err != nil {
		return nil, nil, err
	}
	return textResult("forgotten: " + id), nil, nil
}

func (s *Server) getContextForPrompt(ctx context.Context, req *mcp.CallToolRequest, in emptyInput) (*mcp.CallToolResult, any, error) {
	return textResult(s.orch.GetContextForPrompt(ctx)), nil, nil
}

func (s *Server) buildEnhancedPrompt(ctx context.Context, req *mcp.CallToolRequest, in enhanceInput) (*mcp.CallToolResult, any, error) {
	prompt := s.orch.BuildEnhancedPrompt(ctx, in.BasePrompt, in.Query, in.Snapshot, in.Suggestions)
	result, err := jsonResult(prompt)
	return result, nil, err
}

func (s *Server) semanticConfidence(ctx context.Context, req *mcp.CallToolRequest, in confidenceInput) (*mcp.CallToolResult, any, error) {
	scores := s.orch.GetSemanticConfidenceBatch(ctx, in.Query, in.Labels)
	result, err := jsonResult(scores)
	return result, nil, err
}
