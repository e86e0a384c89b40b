// Package tools implements the MCP tool handlers.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() serving calls:
// - caller mistakes (bad ids, cycles, unknown types) come back as tool
//   error results the agent can read and act on
// - infrastructure failures (disk, locks held elsewhere for too long)
//   come back as Go errors
// Every state change is recorded in the activity journal when one is
// configured; a journal failure never fails the tool call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// objectArg extracts a JSON object argument. A missing key is nil; a
// value that is not an object is an error.
func objectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		// Some clients send objects as JSON text.
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("'%s' must be a JSON object: %w", key, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("'%s' must be a JSON object", key)
	}
}

// idListArg accepts either an array of ids or a comma-separated string.
func idListArg(req mcp.CallToolRequest, key string) []string {
	var raw []string
	switch v := req.GetArguments()[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			switch x := item.(type) {
			case string:
				raw = append(raw, x)
			case float64:
				raw = append(raw, fmt.Sprintf("%d", int(x)))
			}
		}
	}
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// errorResult turns err into a tool result when the caller can fix it and
// passes it through as a Go error otherwise.
func errorResult(err error) (*mcp.CallToolResult, error) {
	switch errs.KindOf(err) {
	case errs.InvalidArgument, errs.NotFound, errs.CircularDependency,
		errs.ValidationError, errs.InvalidState:
		return mcp.NewToolResultError(err.Error()), nil
	case errs.LockTimeout:
		return mcp.NewToolResultError("The file is busy in another process; retry shortly. " + err.Error()), nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// jsonBlock renders v as a fenced JSON block for embedding in markdown.
func jsonBlock(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("(unrenderable: %v)", err)
	}
	return "```json\n" + string(data) + "\n```"
}

// recorder journals events on behalf of a tool.
type recorder struct {
	journal *journal.Store
	logger  *zap.Logger
}

func (r recorder) record(ctx context.Context, e journal.Event) {
	if _, err := r.journal.Record(ctx, e); err != nil && r.logger != nil {
		r.logger.Warn("journal record failed", zap.String("kind", e.Kind), zap.Error(err))
	}
}

// journaled is embedded by tools that change state. The zero value
// journals nothing.
type journaled struct {
	rec recorder
}

// SetJournal wires the activity journal. It is optional: without it the
// tool works the same and records nothing.
func (j *journaled) SetJournal(store *journal.Store, logger *zap.Logger) {
	j.rec = recorder{journal: store, logger: logger}
}
