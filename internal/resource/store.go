package resource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/fsstore"
	"github.com/HendryAvila/taskloom/internal/lockfile"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const fileExt = ".json"

// Store persists resources under root/<type>/<id>.json. Every mutation
// holds the lock of the individual resource file; different resources are
// never serialized against each other.
type Store struct {
	root        string
	files       *fsstore.Store
	types       map[string]bool
	newID       func() string
	now         func() time.Time
	logger      *zap.Logger
	keepBackups int

	initMu      sync.Mutex
	initialized bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides uuid.NewString.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTypes replaces the accepted resource types.
func WithTypes(types ...string) Option {
	return func(s *Store) {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

// WithBackups keeps up to n previous versions of each resource file.
func WithBackups(n int) Option {
	return func(s *Store) { s.keepBackups = n }
}

// NewStore creates a Store rooted at root.
func NewStore(root string, files *fsstore.Store, opts ...Option) *Store {
	s := &Store{
		root:   root,
		files:  files,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	WithTypes(DefaultTypes...)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the directory holding all resource types.
func (s *Store) Root() string { return s.root }

// Types returns the accepted resource types, sorted.
func (s *Store) Types() []string {
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Initialize creates the root and one directory per type. It is safe to
// call repeatedly; a failed attempt is retried on the next call.
func (s *Store) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	for _, t := range s.Types() {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Join(s.root, t)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.WrapPath(errs.FileWriteError, "initialize", dir, err)
		}
	}
	s.initialized = true
	s.logger.Debug("resource store initialized", zap.String("root", s.root))
	return nil
}

// Path returns the file backing loc.
func (s *Store) Path(loc Locator) string {
	return filepath.Join(s.root, loc.Type, loc.ID+fileExt)
}

func (s *Store) checkType(op, typ string) error {
	if !s.types[typ] {
		return errs.New(errs.InvalidArgument, op,
			fmt.Sprintf("unknown resource type %q (known: %s)", typ, strings.Join(s.Types(), ", ")))
	}
	return nil
}

func (s *Store) resolve(op, locator string) (Locator, error) {
	loc, err := ParseLocator(locator)
	if err != nil {
		return Locator{}, err
	}
	if err := s.checkType(op, loc.Type); err != nil {
		return Locator{}, err
	}
	return loc, nil
}

// Create allocates a new id, stamps the header fields and persists the
// resource. Reserved keys in fields are ignored.
func (s *Store) Create(ctx context.Context, typ string, fields map[string]any) (*Resource, error) {
	if err := s.checkType("create", typ); err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	id := s.newID()
	if !idPattern.MatchString(id) {
		return nil, errs.New(errs.InvalidArgument, "create", fmt.Sprintf("generated id %q is not a valid resource id", id))
	}
	now := s.stamp()
	r := &Resource{
		ID:        id,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   SchemaVersion,
		Fields:    mergeFields(nil, fields),
	}

	path := s.Path(r.Locator())
	err := s.files.Locks().WithLock(ctx, path, s.files.LockTimeout(), func(ctx context.Context) error {
		if fsstore.Exists(path) {
			return errs.New(errs.InvalidArgument, "create", "resource already exists").WithID(r.Locator().String())
		}
		return fsstore.Save(ctx, s.files, path, *r, 0)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("resource created", zap.String("locator", r.Locator().String()))
	return r, nil
}

// Load reads the resource at locator.
func (s *Store) Load(ctx context.Context, locator string) (*Resource, error) {
	loc, err := s.resolve("load", locator)
	if err != nil {
		return nil, err
	}
	path := s.Path(loc)
	return lockfile.WithLockResult(ctx, s.files.Locks(), path, s.files.LockTimeout(), func(ctx context.Context) (*Resource, error) {
		return s.read(loc, path)
	})
}

// read expects the caller to hold path's lock.
func (s *Store) read(loc Locator, path string) (*Resource, error) {
	r, err := fsstore.Load[Resource](path)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			return nil, errs.New(errs.NotFound, "load", "resource not found").WithID(loc.String()).WithPath(path)
		}
		return nil, err
	}
	if r.Locator() != loc {
		return nil, errs.New(errs.ValidationError, "load",
			fmt.Sprintf("file holds %s", r.Locator())).WithID(loc.String()).WithPath(path)
	}
	return &r, nil
}

// Save re-stamps r.UpdatedAt and writes r. When the resource is already
// stored, its createdAt is kept and copied back into r.
func (s *Store) Save(ctx context.Context, r *Resource) error {
	if r == nil {
		return errs.New(errs.InvalidArgument, "save", "resource is nil")
	}
	if err := s.checkType("save", r.Type); err != nil {
		return err
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	path := s.Path(r.Locator())
	return s.files.Locks().WithLock(ctx, path, s.files.LockTimeout(), func(ctx context.Context) error {
		if stored, err := fsstore.Load[Resource](path); err == nil {
			r.CreatedAt = stored.CreatedAt
		}
		r.UpdatedAt = s.stamp()
		if r.UpdatedAt.Before(r.CreatedAt) {
			r.UpdatedAt = r.CreatedAt
		}
		return fsstore.Save(ctx, s.files, path, *r, s.keepBackups)
	})
}

// stamp is the clock truncated to what the file format keeps.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Update merges fields into the stored resource and saves it, all under
// one hold of the resource's lock. Reserved keys are ignored; a nil value
// removes the field.
func (s *Store) Update(ctx context.Context, locator string, fields map[string]any) (*Resource, error) {
	loc, err := s.resolve("update", locator)
	if err != nil {
		return nil, err
	}
	path := s.Path(loc)
	return lockfile.WithLockResult(ctx, s.files.Locks(), path, s.files.LockTimeout(), func(ctx context.Context) (*Resource, error) {
		r, err := s.read(loc, path)
		if err != nil {
			return nil, err
		}
		r.Fields = mergeFields(r.Fields, fields)
		r.UpdatedAt = s.stamp()
		if r.UpdatedAt.Before(r.CreatedAt) {
			r.UpdatedAt = r.CreatedAt
		}
		if err := fsstore.Save(ctx, s.files, path, *r, s.keepBackups); err != nil {
			return nil, err
		}
		return r, nil
	})
}

// Delete removes the resource. Deleting an absent resource succeeds.
func (s *Store) Delete(ctx context.Context, locator string) error {
	loc, err := s.resolve("delete", locator)
	if err != nil {
		return err
	}
	path := s.Path(loc)
	err = s.files.Locks().WithLock(ctx, path, s.files.LockTimeout(), func(context.Context) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errs.WrapPath(errs.FileWriteError, "delete", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("resource deleted", zap.String("locator", loc.String()))
	return nil
}

// List returns one locator per stored resource of typ, sorted. A missing
// type directory yields an empty list.
func (s *Store) List(ctx context.Context, typ string) ([]string, error) {
	if err := s.checkType("list", typ); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, typ)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, errs.WrapPath(errs.FileReadError, "list", dir, err)
	}

	out := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if !idPattern.MatchString(id) {
			continue
		}
		out = append(out, Locator{Type: typ, ID: id}.String())
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether a resource is stored at locator.
func (s *Store) Exists(ctx context.Context, locator string) (bool, error) {
	loc, err := s.resolve("exists", locator)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return fsstore.Exists(s.Path(loc)), nil
}

func mergeFields(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if reserved[k] {
			continue
		}
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
