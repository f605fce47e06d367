// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes gitrefer tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nken-eccs/gitrefer/internal/cite"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
)

// Server wraps the MCP server with gitrefer tools.
type Server struct {
	mcp   *server.MCPServer
	store *refstore.Store
}

// New creates a new MCP server with all gitrefer tools registered.
func New(store *refstore.Store) *Server {
	s := &Server{store: store}

	s.mcp = server.NewMCPServer(
		"gitrefer",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_references",
		mcp.WithDescription("List bibliography references, optionally filtered by tag."),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by (empty for all)")),
	), s.listReferences)

	s.mcp.AddTool(mcp.NewTool("get_reference",
		mcp.WithDescription("Read the full metadata of one reference by its ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reference ID (e.g. smith2023)")),
	), s.getReference)

	s.mcp.AddTool(mcp.NewTool("export_references",
		mcp.WithDescription("Export references as formatted citations. "+
			"Supported formats: bibtex, apa, ris."),
		mcp.WithString("format", mcp.Required(), mcp.Description("Citation format (bibtex, apa, or ris)")),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by (empty for all)")),
	), s.exportReferences)

	s.mcp.AddTool(mcp.NewTool("add_tag",
		mcp.WithDescription("Add a tag to a reference. Adding an existing tag is a no-op."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reference ID")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to add")),
	), s.addTag)

	s.mcp.AddTool(mcp.NewTool("remove_tag",
		mcp.WithDescription("Remove a tag from a reference."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reference ID")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to remove")),
	), s.removeTag)

	s.mcp.AddTool(mcp.NewTool("get_metadata_contract",
		mcp.WithDescription("Returns the canonical reference metadata format. "+
			"Call this before interpreting or composing metadata records."),
	), s.getMetadataContract)

	// Resource: metadata format contract.
	s.mcp.AddResource(
		mcp.NewResource("gitrefer://metadata-format", "Reference Metadata Contract",
			mcp.WithResourceDescription("Canonical metadata record format stored for every reference."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readMetadataFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := ""
	if t, err := req.RequireString("tag"); err == nil {
		tag = t
	}
	summaries := []models.Summary{}
	for summary, err := range s.store.List(ctx, refstore.Filter{Tag: tag}) {
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		summaries = append(summaries, summary)
	}
	out, _ := json.MarshalIndent(summaries, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getReference(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := s.store.Raw(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) exportReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format, err := cite.ParseFormat(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag := ""
	if t, err := req.RequireString("tag"); err == nil {
		tag = t
	}
	refs, err := s.store.References(ctx, refstore.Filter{Tag: tag})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result := cite.ExportBatch(format, refs)
	if len(result.Failures) > 0 {
		skipped := make([]string, 0, len(result.Failures))
		for id := range result.Failures {
			skipped = append(skipped, id)
		}
		return mcp.NewToolResultText(result.Text() + "\n\nskipped: " + strings.Join(skipped, ", ")), nil
	}
	return mcp.NewToolResultText(result.Text()), nil
}

func (s *Server) addTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := s.store.AddTag(ctx, id, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("tags of %s: %s", id, strings.Join(ref.Metadata.Tags, ", "))), nil
}

func (s *Server) removeTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := s.store.RemoveTag(ctx, id, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(ref.Metadata.Tags) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s has no tags", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("tags of %s: %s", id, strings.Join(ref.Metadata.Tags, ", "))), nil
}

func (s *Server) getMetadataContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MetadataFormatContract), nil
}

func (s *Server) readMetadataFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "gitrefer://metadata-format",
			MIMEType: "text/markdown",
			Text:     MetadataFormatContract,
		},
	}, nil
}
