package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/resource"
	"github.com/mark3labs/mcp-go/mcp"
)

func typesHint(store *resource.Store) string {
	return strings.Join(store.Types(), ", ")
}

func fieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─── ResourceCreateTool ─────────────────────────────────────────────────────

// ResourceCreateTool handles the resource_create MCP tool.
type ResourceCreateTool struct {
	journaled
	store *resource.Store
}

// NewResourceCreateTool creates a ResourceCreateTool.
func NewResourceCreateTool(store *resource.Store) *ResourceCreateTool {
	return &ResourceCreateTool{store: store}
}

// Definition returns the MCP tool definition for resource_create.
func (t *ResourceCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("resource_create",
		mcp.WithDescription(
			"Store a new document (project brief, interview session, report). "+
				"Returns its locator, e.g. brief://<id>. The store sets id, type, "+
				"createdAt, updatedAt and version; those keys in 'fields' are ignored.",
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Document type: %s", typesHint(t.store))),
		),
		mcp.WithObject("fields",
			mcp.Description("The document's content as a JSON object"),
		),
	)
}

// Handle processes the resource_create tool call.
func (t *ResourceCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := strings.TrimSpace(req.GetString("type", ""))
	if typ == "" {
		return mcp.NewToolResultError("'type' is required"), nil
	}
	fields, err := objectArg(req, "fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := t.store.Create(ctx, typ, fields)
	if err != nil {
		return errorResult(err)
	}

	loc := r.Locator().String()
	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindResourceCreated,
		Subject: loc,
		Summary: "created " + loc,
		Data:    map[string]any{"fields": fieldKeys(r.Fields)},
	})
	return mcp.NewToolResultText(fmt.Sprintf("Created %s\n\n%s", loc, jsonBlock(r))), nil
}

// ─── ResourceGetTool ────────────────────────────────────────────────────────

// ResourceGetTool handles the resource_get MCP tool.
type ResourceGetTool struct {
	store *resource.Store
}

// NewResourceGetTool creates a ResourceGetTool.
func NewResourceGetTool(store *resource.Store) *ResourceGetTool {
	return &ResourceGetTool{store: store}
}

// Definition returns the MCP tool definition for resource_get.
func (t *ResourceGetTool) Definition() mcp.Tool {
	return mcp.NewTool("resource_get",
		mcp.WithDescription("Read a stored document by locator."),
		mcp.WithString("locator", mcp.Required(), mcp.Description("e.g. brief://3f2a...")),
	)
}

// Handle processes the resource_get tool call.
func (t *ResourceGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locator := strings.TrimSpace(req.GetString("locator", ""))
	if locator == "" {
		return mcp.NewToolResultError("'locator' is required"), nil
	}
	r, err := t.store.Load(ctx, locator)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(jsonBlock(r)), nil
}

// ─── ResourceUpdateTool ─────────────────────────────────────────────────────

// ResourceUpdateTool handles the resource_update MCP tool.
type ResourceUpdateTool struct {
	journaled
	store *resource.Store
}

// NewResourceUpdateTool creates a ResourceUpdateTool.
func NewResourceUpdateTool(store *resource.Store) *ResourceUpdateTool {
	return &ResourceUpdateTool{store: store}
}

// Definition returns the MCP tool definition for resource_update.
func (t *ResourceUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("resource_update",
		mcp.WithDescription(
			"Merge fields into a stored document. Keys set to null are removed. "+
				"The previous version is kept as a backup.",
		),
		mcp.WithString("locator", mcp.Required(), mcp.Description("e.g. brief://3f2a...")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Fields to set or (with null) remove")),
	)
}

// Handle processes the resource_update tool call.
func (t *ResourceUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locator := strings.TrimSpace(req.GetString("locator", ""))
	if locator == "" {
		return mcp.NewToolResultError("'locator' is required"), nil
	}
	fields, err := objectArg(req, "fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(fields) == 0 {
		return mcp.NewToolResultError("'fields' must contain at least one key"), nil
	}

	r, err := t.store.Update(ctx, locator, fields)
	if err != nil {
		return errorResult(err)
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindResourceUpdated,
		Subject: locator,
		Summary: "updated " + locator,
		Data:    map[string]any{"fields": fieldKeys(fields)},
	})
	return mcp.NewToolResultText(fmt.Sprintf("Updated %s\n\n%s", locator, jsonBlock(r))), nil
}

// ─── ResourceDeleteTool ─────────────────────────────────────────────────────

// ResourceDeleteTool handles the resource_delete MCP tool.
type ResourceDeleteTool struct {
	journaled
	store *resource.Store
}

// NewResourceDeleteTool creates a ResourceDeleteTool.
func NewResourceDeleteTool(store *resource.Store) *ResourceDeleteTool {
	return &ResourceDeleteTool{store: store}
}

// Definition returns the MCP tool definition for resource_delete.
func (t *ResourceDeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("resource_delete",
		mcp.WithDescription("Delete a stored document. Deleting one that does not exist succeeds."),
		mcp.WithString("locator", mcp.Required(), mcp.Description("e.g. brief://3f2a...")),
	)
}

// Handle processes the resource_delete tool call.
func (t *ResourceDeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locator := strings.TrimSpace(req.GetString("locator", ""))
	if locator == "" {
		return mcp.NewToolResultError("'locator' is required"), nil
	}
	if err := t.store.Delete(ctx, locator); err != nil {
		return errorResult(err)
	}
	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindResourceDeleted,
		Subject: locator,
		Summary: "deleted " + locator,
	})
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s", locator)), nil
}

// ─── ResourceListTool ───────────────────────────────────────────────────────

// ResourceListTool handles the resource_list MCP tool.
type ResourceListTool struct {
	store *resource.Store
}

// NewResourceListTool creates a ResourceListTool.
func NewResourceListTool(store *resource.Store) *ResourceListTool {
	return &ResourceListTool{store: store}
}

// Definition returns the MCP tool definition for resource_list.
func (t *ResourceListTool) Definition() mcp.Tool {
	return mcp.NewTool("resource_list",
		mcp.WithDescription("List stored documents. Without 'type', lists every type."),
		mcp.WithString("type", mcp.Description(fmt.Sprintf("Only this type: %s", typesHint(t.store)))),
	)
}

// Handle processes the resource_list tool call.
func (t *ResourceListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types := t.store.Types()
	if typ := strings.TrimSpace(req.GetString("type", "")); typ != "" {
		types = []string{typ}
	}

	var b strings.Builder
	total := 0
	for _, typ := range types {
		locs, err := t.store.List(ctx, typ)
		if err != nil {
			return errorResult(err)
		}
		if len(locs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%d)\n\n", typ, len(locs))
		for _, l := range locs {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		b.WriteString("\n")
		total += len(locs)
	}
	if total == 0 {
		return mcp.NewToolResultText("No documents stored."), nil
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}
