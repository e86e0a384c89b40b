// Package resources exposes stored documents and the task collection as
// read-only MCP resources.
//
// Documents use their store locator as the URI (brief://<id>, ...), so a
// locator returned by a tool can be read directly by the host.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/resource"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/mark3labs/mcp-go/mcp"
)

// TasksURI addresses the whole task collection.
const TasksURI = "taskloom://tasks"

// Handler serves resource reads from the task and document stores.
type Handler struct {
	tasks tasks.Store
	docs  *resource.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(taskStore tasks.Store, docs *resource.Store) *Handler {
	return &Handler{tasks: taskStore, docs: docs}
}

// TasksResource returns the MCP resource definition for the task collection.
func (h *Handler) TasksResource() mcp.Resource {
	return mcp.NewResource(
		TasksURI,
		"Task collection",
		mcp.WithResourceDescription("Every task and subtask with status, priority and dependencies"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleTasks returns the task collection as JSON.
func (h *Handler) HandleTasks(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	c, err := h.tasks.Load(ctx)
	if errors.Is(err, errs.NotFound) {
		c = tasks.NewCollection("")
	} else if err != nil {
		if errs.KindOf(err) == errs.ValidationError {
			return errorResource(req.Params.URI, err.Error()), nil
		}
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	return jsonResource(req.Params.URI, c)
}

// DocumentTemplates returns one template per document type the store
// accepts.
func (h *Handler) DocumentTemplates() []mcp.ResourceTemplate {
	types := h.docs.Types()
	out := make([]mcp.ResourceTemplate, 0, len(types))
	for _, typ := range types {
		out = append(out, mcp.NewResourceTemplate(
			typ+"://{id}",
			fmt.Sprintf("Stored %s", typ),
			mcp.WithTemplateDescription(fmt.Sprintf("A %s document created with resource_create", typ)),
			mcp.WithTemplateMIMEType("application/json"),
		))
	}
	return out
}

// HandleDocument returns the document addressed by the request URI.
func (h *Handler) HandleDocument(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	r, err := h.docs.Load(ctx, req.Params.URI)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.NotFound, errs.InvalidArgument, errs.ValidationError:
			return errorResource(req.Params.URI, err.Error()), nil
		}
		return nil, fmt.Errorf("loading %s: %w", req.Params.URI, err)
	}
	return jsonResource(req.Params.URI, r)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
