package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nken-eccs/gitrefer/internal/refstore"
	"github.com/nken-eccs/gitrefer/internal/testutil"
)

func testServer(t *testing.T) (*Server, *refstore.Store) {
	t.Helper()
	store, _ := testutil.Store(t)
	srv := New(store)
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go does not expose a "call tool" test helper, so we dispatch to
	// the handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_references":
		result, err = srv.listReferences(ctx, req)
	case "get_reference":
		result, err = srv.getReference(ctx, req)
	case "export_references":
		result, err = srv.exportReferences(ctx, req)
	case "add_tag":
		result, err = srv.addTag(ctx, req)
	case "remove_tag":
		result, err = srv.removeTag(ctx, req)
	case "get_metadata_contract":
		result, err = srv.getMetadataContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListReferences(t *testing.T) {
	srv, store := testServer(t)
	testutil.Seed(t, store, testutil.Metadata("Optimistic Replication", "Saito", "2005", "replication"))
	testutil.Seed(t, store, testutil.Metadata("Paxos Made Simple", "Lamport", "2001", "consensus"))

	r := callTool(t, srv, "list_references", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "saito2005") || !strings.Contains(text, "lamport2001") {
		t.Errorf("list result missing references: %s", text)
	}

	r = callTool(t, srv, "list_references", map[string]interface{}{"tag": "consensus"})
	text = resultText(r)
	if strings.Contains(text, "saito2005") {
		t.Errorf("tag filter leaked unrelated reference: %s", text)
	}
	if !strings.Contains(text, "lamport2001") {
		t.Errorf("tag filter dropped matching reference: %s", text)
	}
}

func TestGetReference(t *testing.T) {
	srv, store := testServer(t)
	testutil.Seed(t, store, testutil.Metadata("Optimistic Replication", "Saito", "2005"))

	r := callTool(t, srv, "get_reference", map[string]interface{}{"id": "saito2005"})
	text := resultText(r)
	if !strings.Contains(text, `"title": "Optimistic Replication"`) {
		t.Errorf("get result = %q", text)
	}
}

func TestGetReferenceMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_reference", map[string]interface{}{"id": "nope2020"})
	if !r.IsError {
		t.Error("expected error for missing reference")
	}
}

func TestExportReferences(t *testing.T) {
	srv, store := testServer(t)
	testutil.Seed(t, store, testutil.Metadata("Optimistic Replication", "Saito", "2005"))

	r := callTool(t, srv, "export_references", map[string]interface{}{"format": "bibtex"})
	text := resultText(r)
	if !strings.Contains(text, "@article{saito2005,") {
		t.Errorf("export result = %q", text)
	}
}

func TestExportReferencesBadFormat(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "export_references", map[string]interface{}{"format": "endnote"})
	if !r.IsError {
		t.Error("expected error for unknown format")
	}
}

func TestAddAndRemoveTag(t *testing.T) {
	srv, store := testServer(t)
	testutil.Seed(t, store, testutil.Metadata("Optimistic Replication", "Saito", "2005"))

	r := callTool(t, srv, "add_tag", map[string]interface{}{"id": "saito2005", "tag": "to-read"})
	if text := resultText(r); text != "tags of saito2005: to-read" {
		t.Errorf("add_tag result = %q", text)
	}

	r = callTool(t, srv, "remove_tag", map[string]interface{}{"id": "saito2005", "tag": "to-read"})
	if text := resultText(r); text != "saito2005 has no tags" {
		t.Errorf("remove_tag result = %q", text)
	}
}

func TestMetadataContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_metadata_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "metadata.json") {
		t.Error("contract text missing record name")
	}
}
