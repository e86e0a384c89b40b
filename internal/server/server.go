// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates the lock manager, file stores,
// journal, operation tracker and watcher, and injects them into the
// tools/prompts/resources that depend on them. No business logic lives
// here, only wiring.
package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/HendryAvila/taskloom/internal/ai"
	"github.com/HendryAvila/taskloom/internal/config"
	"github.com/HendryAvila/taskloom/internal/fsstore"
	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/lockfile"
	"github.com/HendryAvila/taskloom/internal/operations"
	"github.com/HendryAvila/taskloom/internal/prompts"
	"github.com/HendryAvila/taskloom/internal/resource"
	"github.com/HendryAvila/taskloom/internal/resources"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/HendryAvila/taskloom/internal/tools"
	"github.com/HendryAvila/taskloom/internal/watch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags.
var Version = "dev"

// ResourcesDir is the directory under the data dir holding documents.
const ResourcesDir = "resources"

// Stores holds the persistence layer for one project. The CLI uses it
// directly; New builds the MCP surface on top of it.
type Stores struct {
	Locks     *lockfile.Manager
	Files     *fsstore.Store
	Tasks     *tasks.FileStore
	Resources *resource.Store
}

// OpenStores creates the persistence layer for the project at projectRoot.
// Nothing touches the disk until the first read or write.
func OpenStores(cfg *config.Config, projectRoot string, logger *zap.Logger) *Stores {
	dataDir := cfg.DataPath(projectRoot)
	locks := lockfile.New(
		lockfile.WithDefaults(cfg.Locks.Timeout, cfg.Locks.RetryInterval),
		lockfile.WithLogger(logger.Named("lock")),
	)
	files := fsstore.New(locks,
		fsstore.WithLogger(logger.Named("fs")),
		fsstore.WithLockTimeout(cfg.Locks.Timeout),
		fsstore.WithRestoreKeep(cfg.Backups.Keep),
	)
	return &Stores{
		Locks: locks,
		Files: files,
		Tasks: tasks.NewFileStore(files, dataDir, cfg.Project.Name, cfg.Backups.Keep),
		Resources: resource.NewStore(filepath.Join(dataDir, ResourcesDir), files,
			resource.WithLogger(logger.Named("resource")),
			resource.WithBackups(cfg.Backups.Keep),
		),
	}
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function stops the watcher, drains the operation
// pool, releases held locks and closes the journal. It is always non-nil
// and must be called on shutdown (typically via defer).
func New(ctx context.Context, cfg *config.Config, projectRoot string, logger *zap.Logger) (*server.MCPServer, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// --- Create shared dependencies ---

	st := OpenStores(cfg, projectRoot, logger)
	if err := st.Resources.Initialize(ctx); err != nil {
		return nil, noop, fmt.Errorf("initializing resource store: %w", err)
	}

	// The journal is optional: if it fails to open, every other tool
	// keeps working without history.
	var jrnl *journal.Store
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath(projectRoot))
		if err != nil {
			logger.Warn("activity journal disabled", zap.Error(err))
		} else {
			jrnl = j
		}
	}

	pool := operations.NewPool(cfg.Operations.MaxConcurrent)
	tracker := operations.NewTracker(pool,
		operations.WithContext(ctx),
		operations.WithLogger(logger.Named("operations")),
	)
	tracker.OnTerminal(func(op operations.Operation) {
		ev := journal.Event{
			Kind:    journal.KindOperationDone,
			Subject: op.ID,
			Summary: fmt.Sprintf("%s %s", op.Type, op.Status),
			Data:    map[string]any{"type": op.Type, "status": string(op.Status)},
		}
		if op.Result != nil && op.Result.Error != "" {
			ev.Data["error"] = op.Result.Error
		}
		if _, err := jrnl.Record(context.Background(), ev); err != nil {
			logger.Warn("journal write failed", zap.String("kind", ev.Kind), zap.Error(err))
		}
	})

	var watcher *watch.Watcher
	if cfg.Watch.Enabled {
		watcher = watch.New(st.Tasks,
			watch.WithDebounce(cfg.Watch.Debounce),
			watch.WithJournal(jrnl),
			watch.WithLogger(logger.Named("watch")),
		)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("task file watcher disabled", zap.Error(err))
			watcher = nil
		}
	}

	cleanup := func() {
		if watcher != nil {
			watcher.Stop()
		}
		pool.Close()
		st.Locks.ReleaseAll()
		if err := jrnl.Close(); err != nil {
			logger.Warn("journal close failed", zap.Error(err))
		}
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"taskloom",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register task tools ---

	taskAdd := tools.NewTaskAddTool(st.Tasks)
	taskSetStatus := tools.NewTaskSetStatusTool(st.Tasks)
	taskRemove := tools.NewTaskRemoveTool(st.Tasks)
	subtaskAdd := tools.NewSubtaskAddTool(st.Tasks)
	subtaskRemove := tools.NewSubtaskRemoveTool(st.Tasks)

	// --- Register dependency tools ---

	depAdd := tools.NewDependencyAddTool(st.Tasks)
	depRemove := tools.NewDependencyRemoveTool(st.Tasks)
	depFix := tools.NewDependencyFixTool(st.Tasks)

	// --- Register resource tools ---

	resCreate := tools.NewResourceCreateTool(st.Resources)
	resUpdate := tools.NewResourceUpdateTool(st.Resources)
	resDelete := tools.NewResourceDeleteTool(st.Resources)

	for _, t := range []journaledTool{
		taskAdd, taskSetStatus, taskRemove, subtaskAdd, subtaskRemove,
		depAdd, depRemove, depFix,
		resCreate, resUpdate, resDelete,
	} {
		t.SetJournal(jrnl, logger)
	}

	for _, t := range []tool{
		tools.NewTaskListTool(st.Tasks),
		tools.NewTaskGetTool(st.Tasks),
		taskAdd, taskSetStatus, taskRemove, subtaskAdd, subtaskRemove,
		tools.NewTaskNextTool(st.Tasks),

		depAdd, depRemove,
		tools.NewDependencyValidateTool(st.Tasks),
		depFix,

		resCreate,
		tools.NewResourceGetTool(st.Resources),
		resUpdate, resDelete,
		tools.NewResourceListTool(st.Resources),

		tools.NewOperationStatusTool(tracker),
		tools.NewOperationListTool(tracker),
		tools.NewOperationCancelTool(tracker),

		tools.NewActivityRecentTool(jrnl),
	} {
		s.AddTool(t.Definition(), t.Handle)
	}

	// --- Register AI tools ---
	//
	// task_expand needs a model. Without an API key the tool is simply
	// not offered; everything else works the same.

	if key := cfg.APIKey(); key != "" {
		gen, err := ai.NewGemini(ctx, key, cfg.AI.Model)
		if err != nil {
			logger.Warn("AI tools disabled", zap.Error(err))
		} else {
			expand := tools.NewTaskExpandTool(st.Tasks, gen, tracker)
			s.AddTool(expand.Definition(), expand.Handle)
		}
	} else {
		logger.Info("AI tools disabled: no API key", zap.String("env", cfg.AI.APIKeyEnv))
	}

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	planPrompt := prompts.NewPlanPrompt()
	s.AddPrompt(planPrompt.Definition(), planPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(st.Tasks, st.Resources)
	s.AddResource(resourceHandler.TasksResource(), resourceHandler.HandleTasks)
	for _, tpl := range resourceHandler.DocumentTemplates() {
		s.AddResourceTemplate(tpl, resourceHandler.HandleDocument)
	}

	logger.Info("server ready",
		zap.String("project", cfg.Project.Name),
		zap.String("data_dir", cfg.DataPath(projectRoot)),
		zap.Bool("journal", jrnl != nil),
		zap.Bool("watch", watcher != nil),
	)
	return s, cleanup, nil
}

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

type journaledTool interface {
	SetJournal(j *journal.Store, logger *zap.Logger)
}

// noop is the cleanup returned when New fails before anything needs closing.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use taskloom effectively.
func serverInstructions() string {
	return `You have access to taskloom, a task tracker for AI-assisted projects.

## What it stores
- Tasks with subtasks (ids "3" and "3.2"), status, priority and dependencies.
- Documents: briefs, interview notes and reports, addressed as type://id.
- An activity journal of every change, including edits made outside this server.

## How to work
1. Start with task_list or task_next to see where the project stands.
2. Record new work with task_add and subtask_add; link order with dependency_add.
3. Update progress with task_set_status. Marking a task done also completes its subtasks.
4. Before planning around the dependency graph, run dependency_validate.
   If it reports problems, show them to the user and offer dependency_fix.
5. Keep longer context (requirements, decisions, interview answers) as documents
   with resource_create, and read them back with resource_get.

## Background operations
task_expand (when available) runs in the background and returns an operation id.
Poll it with operation_status until it is completed or failed. Operations are kept
in memory only and are lost when the server restarts.

## Rules
- Tools are storage, not reasoning. Generate real titles and descriptions yourself.
- Never invent ids. Read them from task_list or resource_list.
- If a tool reports the task file is busy, wait briefly and retry.`
}
