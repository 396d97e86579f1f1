// Package mcp implements tool.Collaborator on top of the official MCP Go SDK,
// so tools served by any MCP server (stdio process or in-memory) can be
// relayed to the model.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/tool"
)

// Options configures a Client.
type Options struct {
	// Name and Version identify this client to the server.
	Name    string
	Version string
	Logger  logging.Logger
}

// Client is a tool.Collaborator backed by one MCP client session.
type Client struct {
	session *sdk.ClientSession
	logger  logging.Logger
}

var _ tool.Collaborator = (*Client)(nil)

// Connect opens a session over transport.
func Connect(ctx context.Context, transport sdk.Transport, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{Name: "verimesh", Version: "v0.1.0"}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := sdk.NewClient(&sdk.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect: %w", err)
	}
	return &Client{session: session, logger: logging.OrNoOp(opts.Logger)}, nil
}

// ConnectCommand starts spec.Command with spec.Args and talks MCP over its
// stdio.
func ConnectCommand(ctx context.Context, spec tool.ToolSpec, optFns ...func(o *Options)) (*Client, error) {
	if spec.Command == "" {
		return nil, errors.New("mcp: tool spec has no command")
	}
	cmd := exec.Command(spec.Command, spec.Args...) // #nosec G204 -- command comes from operator config
	return Connect(ctx, &sdk.CommandTransport{Command: cmd}, optFns...)
}

// ListTools returns every tool the server advertises, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]tool.ToolSpec, error) {
	var specs []tool.ToolSpec
	for t, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		spec := tool.ToolSpec{Name: t.Name, Description: t.Description}
		if params, ok := t.InputSchema.(map[string]any); ok {
			spec.Parameters = params
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Invoke calls the named tool. Protocol failures and results flagged as
// errors are both reported as *tool.ToolError.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("mcp.call.failed", "tool", name, "error", err.Error())
		return nil, tool.NewToolError(name, err.Error(), tool.CodeExecution)
	}

	text := joinText(res.Content)
	if res.IsError {
		c.logger.Warn("mcp.call.tool_error", "tool", name, "error", text)
		return nil, tool.NewToolError(name, text, tool.CodeExecution)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

func joinText(contents []sdk.Content) string {
	var parts []string
	for _, content := range contents {
		if tc, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
