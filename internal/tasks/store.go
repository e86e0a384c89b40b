package tasks

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/fsstore"
	"github.com/HendryAvila/taskloom/internal/lockfile"
)

const (
	// TasksDir is the subdirectory of the data dir holding the task file.
	TasksDir = "tasks"
	// TasksFile is the task collection's filename.
	TasksFile = "tasks.json"
	// DefaultKeepBackups is how many previous versions of tasks.json survive.
	DefaultKeepBackups = 5
)

// TasksPath returns the path of the task file under dataDir.
func TasksPath(dataDir string) string {
	return filepath.Join(dataDir, TasksDir, TasksFile)
}

// Store defines the persistence interface for the task collection.
type Store interface {
	Load(ctx context.Context) (*Collection, error)
	Save(ctx context.Context, c *Collection) error
	Mutate(ctx context.Context, fn func(c *Collection) error) (*Collection, error)
}

// FileStore keeps the collection in one JSON file written through fsstore.
type FileStore struct {
	files       *fsstore.Store
	path        string
	projectName string
	keepBackups int

	mu      sync.Mutex
	written [sha256.Size]byte
}

// NewFileStore creates a store for the task file under dataDir.
// projectName seeds the metadata of a collection created by Mutate.
func NewFileStore(files *fsstore.Store, dataDir, projectName string, keepBackups int) *FileStore {
	return &FileStore{
		files:       files,
		path:        TasksPath(dataDir),
		projectName: projectName,
		keepBackups: keepBackups,
	}
}

// Path returns the task file's location.
func (fs *FileStore) Path() string { return fs.path }

// Files returns the underlying atomic file store.
func (fs *FileStore) Files() *fsstore.Store { return fs.files }

// Load reads the collection. A missing file is NotFound.
func (fs *FileStore) Load(ctx context.Context) (*Collection, error) {
	return lockfile.WithLockResult(ctx, fs.files.Locks(), fs.path, fs.files.LockTimeout(),
		func(context.Context) (*Collection, error) {
			return fs.read()
		})
}

func (fs *FileStore) read() (*Collection, error) {
	c, err := fsstore.Load[Collection](fs.path)
	if err != nil {
		return nil, err
	}
	if c.Tasks == nil {
		c.Tasks = []Task{}
	}
	return &c, nil
}

// Save stamps the metadata and writes c, backing up the previous version.
func (fs *FileStore) Save(ctx context.Context, c *Collection) error {
	c.Touch()
	data, err := fsstore.Encode(*c)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return e.WithPath(fs.path)
		}
		return err
	}
	if err := fs.files.WriteFile(ctx, fs.path, data, fs.keepBackups); err != nil {
		return err
	}
	fs.mu.Lock()
	fs.written = sha256.Sum256(data)
	fs.mu.Unlock()
	return nil
}

// WroteLast reports whether data is exactly what this store last wrote.
// The watcher uses it to tell its own process's saves from outside edits.
func (fs *FileStore) WroteLast(data []byte) bool {
	sum := sha256.Sum256(data)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return bytes.Equal(sum[:], fs.written[:])
}

// ReadRaw returns the task file's bytes without decoding them.
func (fs *FileStore) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Mutate runs fn against the stored collection and saves the result, all
// under one hold of the task file's lock. A missing file starts from an
// empty collection. If fn fails nothing is written.
func (fs *FileStore) Mutate(ctx context.Context, fn func(c *Collection) error) (*Collection, error) {
	return lockfile.WithLockResult(ctx, fs.files.Locks(), fs.path, fs.files.LockTimeout(),
		func(ctx context.Context) (*Collection, error) {
			c, err := fs.read()
			if errors.Is(err, errs.NotFound) {
				c, err = NewCollection(fs.projectName), nil
			}
			if err != nil {
				return nil, err
			}
			if err := fn(c); err != nil {
				return nil, err
			}
			if err := fs.Save(ctx, c); err != nil {
				return nil, err
			}
			return c, nil
		})
}
