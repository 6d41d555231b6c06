package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	uriScheme = "keep://"

	recentLimit = 20
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "collections",
		Name:        "collections",
		Description: "Collections holding documents",
		MIMEType:    "application/json",
	}, s.handleCollectionsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "recent",
		Name:        "recent",
		Description: "Recently updated documents in the default collection",
		MIMEType:    "application/json",
	}, s.handleRecentResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}",
		Name:        "document",
		Description: "Summary of a remembered document",
		MIMEType:    "text/plain",
	}, s.handleDocumentResource)
}

func (s *Server) handleCollectionsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	names, err := s.ports.Keeper.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return jsonResource(req.Params.URI, names)
}

func (s *Server) handleRecentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	docs, err := s.ports.Keeper.ListRecent(ctx, s.ports.Collection, recentLimit, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("listing recent documents: %w", err)
	}

	out := make([]DocumentOutput, len(docs))
	for i := range docs {
		out[i] = documentOutput(&docs[i])
	}
	return jsonResource(req.Params.URI, out)
}

func (s *Server) handleDocumentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	// keep://documents/{documentId}
	id := extractDocumentID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	doc, err := s.ports.Keeper.Get(ctx, s.ports.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	if doc == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     doc.Summary,
		}},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractDocumentID extracts the document ID from a URI like keep://documents/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	return strings.TrimPrefix(uri, prefix)
}
