// Package mcpsurface exposes registered actions as MCP tools, deriving
// each tool's input schema dynamically from its stored action config
// instead of a fixed, hand-written tool set.
package mcpsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/openact/openact/internal/openact/errs"
	"github.com/openact/openact/internal/openact/registry"
	"github.com/openact/openact/internal/openact/store"
	"github.com/openact/openact/internal/openact/trn"
)

// SchemaDeriver is the subset of registry.Registry this surface needs.
type SchemaDeriver interface {
	DeriveMCPSchemas(actionTrn string) (input, output map[string]any, err error)
	Execute(ctx context.Context, actionTrn string, input map[string]any) (*registry.ExecutionResult, map[string]any, error)
}

// Server wraps an MCP server exposing every mcp_enabled ActionRecord as a
// tool named "connector.action", honoring per-action MCPOverrides for
// tool name and description. Override tags are parsed but not attached to
// the registered tool.
type Server struct {
	mcp      *mcpserver.MCPServer
	registry SchemaDeriver
	st       store.Store
	logger   *slog.Logger
}

// New builds the MCP server and registers every currently mcp_enabled
// action as a tool. Registration is a point-in-time snapshot; actions
// added later require a process restart.
func New(ctx context.Context, name, version string, registry SchemaDeriver, st store.Store) (*Server, error) {
	s := &Server{
		mcp:      mcpserver.NewMCPServer(name, version),
		registry: registry,
		st:       st,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("component", "mcp_surface")),
	}
	if err := s.registerActions(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerActions(ctx context.Context) error {
	connectors, err := s.st.ListDistinctConnectors(ctx)
	if err != nil {
		return errs.NewInternal(err)
	}
	for _, connector := range connectors {
		actions, err := s.st.ListActionsByConnector(ctx, connector)
		if err != nil {
			return errs.NewInternal(err)
		}
		for _, rec := range actions {
			if !rec.MCPEnabled {
				continue
			}
			if err := s.registerOne(rec); err != nil {
				s.logger.Warn("skipping action with bad MCP schema", "trn", rec.Trn, "error", err)
				continue
			}
		}
	}
	return nil
}

func (s *Server) registerOne(rec *store.ActionRecord) error {
	parsed, err := trn.ParseAction(rec.Trn)
	if err != nil {
		return err
	}
	toolName, description, tags := toolMetadata(rec, parsed)

	inputSchema, _, err := s.registry.DeriveMCPSchemas(rec.Trn)
	if err != nil {
		return err
	}

	tool := mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: toInputSchema(inputSchema),
	}
	_ = tags // tags are not part of the registered MCP tool

	actionTrn := rec.Trn
	s.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		result, _, err := s.registry.Execute(ctx, actionTrn, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		raw, err := json.Marshal(result.Output)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		return textResult(string(raw)), nil
	})
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

// toolMetadata derives name/description/tags honoring ActionRecord's
// mcp_overrides (§3's "may override tool name/description/tags/requires_auth
// for MCP exposure without changing execution semantics").
func toolMetadata(rec *store.ActionRecord, parsed trn.ActionTrn) (name, description string, tags []string) {
	name = parsed.ToolName()
	description = fmt.Sprintf("OpenAct action %s", rec.Trn)
	if rec.MCPOverridesJSON == "" {
		return name, description, nil
	}
	var overrides struct {
		ToolName    string   `json:"tool_name"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(rec.MCPOverridesJSON), &overrides); err != nil {
		return name, description, nil
	}
	if overrides.ToolName != "" {
		name = overrides.ToolName
	}
	if overrides.Description != "" {
		description = overrides.Description
	}
	return name, description, overrides.Tags
}

func toInputSchema(schema map[string]any) mcp.ToolInputSchema {
	if schema == nil {
		return mcp.ToolInputSchema{Type: "object"}
	}
	props, _ := schema["properties"].(map[string]any)
	propsAny := make(map[string]interface{}, len(props))
	for k, v := range props {
		propsAny[k] = v
	}
	var required []string
	if reqAny, ok := schema["required"].([]any); ok {
		for _, r := range reqAny {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	return mcp.ToolInputSchema{Type: "object", Properties: propsAny, Required: required}
}

// Run serves the MCP server over stdio until the process exits.
func (s *Server) Run(ctx context.Context) error {
	return mcpserver.ServeStdio(s.mcp)
}
