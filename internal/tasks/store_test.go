package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/fsstore"
	"github.com/HendryAvila/taskloom/internal/lockfile"
)

// --- Helpers ---

func newTestFileStore(t *testing.T, keep int) *FileStore {
	t.Helper()
	locks := lockfile.New(lockfile.WithDefaults(2*time.Second, 2*time.Millisecond))
	t.Cleanup(locks.ReleaseAll)
	return NewFileStore(fsstore.New(locks), t.TempDir(), "demo", keep)
}

func fixTime(t *testing.T, at time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = orig })
}

// --- Path helpers ---

func TestTasksPath(t *testing.T) {
	got := TasksPath("/root/.taskloom")
	want := filepath.Join("/root/.taskloom", TasksDir, TasksFile)
	if got != want {
		t.Errorf("TasksPath = %s, want %s", got, want)
	}
}

// --- Load / Save ---

func TestLoad_MissingFile(t *testing.T) {
	fs := newTestFileStore(t, 0)
	_, err := fs.Load(context.Background())
	if !errors.Is(err, errs.NotFound) {
		t.Fatalf("Load error = %v, want NotFound", err)
	}
}

func TestSaveLoad_RoundTripStampsMetadata(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	fixTime(t, at)
	fs := newTestFileStore(t, 0)
	ctx := context.Background()

	c := validCollection()
	c.Metadata.ProjectName = "demo"
	if err := fs.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Metadata.TaskCount != 2 {
		t.Errorf("TaskCount = %d, want 2", got.Metadata.TaskCount)
	}
	if !got.Metadata.UpdatedAt.Equal(at) || !got.Metadata.CreatedAt.Equal(at) {
		t.Errorf("metadata times = %+v, want %v", got.Metadata, at)
	}
	if got.Find("2.2") == nil {
		t.Error("subtask lost in round trip")
	}
}

func TestSave_RejectsInvalidCollection(t *testing.T) {
	fs := newTestFileStore(t, 0)
	c := validCollection()
	c.Tasks[0].Status = "bogus"
	err := fs.Save(context.Background(), c)
	if !errors.Is(err, errs.ValidationError) {
		t.Fatalf("Save error = %v, want ValidationError", err)
	}
	if fsstore.Exists(fs.Path()) {
		t.Error("invalid collection was written")
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	fs := newTestFileStore(t, 0)
	if err := os.MkdirAll(filepath.Dir(fs.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fs.Path(), []byte(`{"tasks":[{"id":1,"title":"","status":"pending"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := fs.Load(context.Background())
	if !errors.Is(err, errs.ValidationError) {
		t.Fatalf("Load error = %v, want ValidationError", err)
	}
}

// --- Mutate ---

func TestMutate_CreatesCollectionWhenMissing(t *testing.T) {
	fs := newTestFileStore(t, 0)
	c, err := fs.Mutate(context.Background(), func(c *Collection) error {
		_, err := c.AddTask(Task{Title: "First"})
		return err
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if c.Metadata.ProjectName != "demo" || len(c.Tasks) != 1 {
		t.Errorf("collection = %+v", c)
	}
	loaded, err := fs.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Find("1") == nil {
		t.Error("task 1 not persisted")
	}
}

func TestMutate_ErrorWritesNothing(t *testing.T) {
	fs := newTestFileStore(t, 0)
	ctx := context.Background()
	if _, err := fs.Mutate(ctx, func(c *Collection) error {
		_, err := c.AddTask(Task{Title: "Keep"})
		return err
	}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := fs.Mutate(ctx, func(c *Collection) error {
		c.Tasks[0].Title = "Changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Mutate error = %v, want boom", err)
	}

	loaded, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Tasks[0].Title != "Keep" {
		t.Errorf("failed mutation was persisted: %q", loaded.Tasks[0].Title)
	}
}

func TestMutate_BacksUpPreviousVersions(t *testing.T) {
	fs := newTestFileStore(t, 2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := fs.Mutate(ctx, func(c *Collection) error {
			_, err := c.AddTask(Task{Title: "t"})
			return err
		}); err != nil {
			t.Fatal(err)
		}
	}
	backups, err := fs.Files().ListBackups(fs.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Errorf("got %d backups, want 2", len(backups))
	}
}

func TestMutate_ConcurrentCallersDoNotLoseTasks(t *testing.T) {
	fs := newTestFileStore(t, 0)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fs.Mutate(ctx, func(c *Collection) error {
				_, err := c.AddTask(Task{Title: "parallel"})
				return err
			}); err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	c, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Tasks) != n {
		t.Fatalf("got %d tasks, want %d", len(c.Tasks), n)
	}
	for i, task := range c.Tasks {
		if task.ID != i+1 {
			t.Errorf("tasks[%d].ID = %d, want %d", i, task.ID, i+1)
		}
	}
}

func TestWroteLast_DistinguishesOutsideEdits(t *testing.T) {
	fs := newTestFileStore(t, 0)
	ctx := context.Background()

	if _, err := fs.Mutate(ctx, func(c *Collection) error {
		_, err := c.AddTask(Task{Title: "ours"})
		return err
	}); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadRaw()
	if err != nil {
		t.Fatal(err)
	}
	if !fs.WroteLast(data) {
		t.Error("WroteLast should recognise this store's own write")
	}

	edited := append([]byte(nil), data...)
	edited = append(edited, ' ')
	if err := os.WriteFile(fs.Path(), edited, 0o644); err != nil {
		t.Fatal(err)
	}
	if fs.WroteLast(edited) {
		t.Error("WroteLast should not claim an outside edit")
	}
}
