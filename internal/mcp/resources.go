package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// Resource URIs.
const (
	documentURIPrefix   = "nexus://documents/"
	DocumentURITemplate = documentURIPrefix + "{doc_id}"
	StatusURI           = "nexus://status"
)

func documentURI(docID string) string {
	return documentURIPrefix + docID
}

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: DocumentURITemplate,
		Name:        "document",
		Description: "Stored chunk text of an indexed document, addressed by doc_id",
		MIMEType:    "text/plain",
	}, s.readDocument)

	s.mcp.AddResource(&mcp.Resource{
		URI:         StatusURI,
		Name:        "status",
		Description: "Store entry counts and embedding model as JSON",
		MIMEType:    "application/json",
	}, s.readStatus)
}

func (s *Server) readDocument(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	docID, ok := strings.CutPrefix(uri, documentURIPrefix)
	if !ok || docID == "" {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	chunks, _, err := s.lib.Explain(ctx, docID)
	if err != nil {
		if nexuserrors.GetCode(err) == nexuserrors.ErrCodeFileNotFound {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     formatDocument(chunks),
		}},
	}, nil
}

func (s *Server) readStatus(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	_, out, err := s.statusHandler(ctx, nil, StatusInput{})
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
