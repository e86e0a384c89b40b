// Package resource stores typed documents (project briefs, interview
// sessions, reports) as one JSON file per entity, addressed by a
// "type://id" locator.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
)

// Known resource types.
const (
	TypeBrief     = "brief"
	TypeInterview = "interview"
	TypeReport    = "report"
)

// SchemaVersion is stamped into every resource written by this package.
const SchemaVersion = "1"

// DefaultTypes lists the types a Store accepts unless configured otherwise.
var DefaultTypes = []string{TypeBrief, TypeInterview, TypeReport}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Reserved keys are managed by the store and cannot be set through Fields.
var reserved = map[string]bool{
	"id":        true,
	"type":      true,
	"createdAt": true,
	"updatedAt": true,
	"version":   true,
}

// IsReserved reports whether key is a store-managed field.
func IsReserved(key string) bool { return reserved[key] }

// Resource is a stored entity. Fields holds the type-specific payload and
// is flattened next to the header fields on disk.
type Resource struct {
	ID        string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   string
	Fields    map[string]any
}

// Locator returns the resource's address.
func (r *Resource) Locator() Locator { return Locator{Type: r.Type, ID: r.ID} }

// Validate checks the header fields.
func (r *Resource) Validate() error {
	var problems []string
	if !typePattern.MatchString(r.Type) {
		problems = append(problems, fmt.Sprintf("invalid type %q", r.Type))
	}
	if !idPattern.MatchString(r.ID) {
		problems = append(problems, fmt.Sprintf("invalid id %q", r.ID))
	}
	if r.Version == "" {
		problems = append(problems, "version is required")
	}
	if r.CreatedAt.IsZero() {
		problems = append(problems, "createdAt is required")
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		problems = append(problems, "updatedAt precedes createdAt")
	}
	for k := range r.Fields {
		if reserved[k] {
			problems = append(problems, fmt.Sprintf("field %q is reserved", k))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// MarshalJSON writes the header and Fields as one flat object.
func (r Resource) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	out["type"] = r.Type
	out["createdAt"] = r.CreatedAt.UTC().Format(timeLayout)
	out["updatedAt"] = r.UpdatedAt.UTC().Format(timeLayout)
	out["version"] = r.Version
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object into header and Fields.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("resource must be a JSON object")
	}

	str := func(key string) (string, error) {
		v, ok := raw[key]
		if !ok {
			return "", fmt.Errorf("missing %q", key)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%q must be a string", key)
		}
		return s, nil
	}
	stamp := func(key string) (time.Time, error) {
		s, err := str(key)
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q: %w", key, err)
		}
		return t, nil
	}

	var res Resource
	var err error
	if res.ID, err = str("id"); err != nil {
		return err
	}
	if res.Type, err = str("type"); err != nil {
		return err
	}
	if res.Version, err = str("version"); err != nil {
		return err
	}
	if res.CreatedAt, err = stamp("createdAt"); err != nil {
		return err
	}
	if res.UpdatedAt, err = stamp("updatedAt"); err != nil {
		return err
	}

	res.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		if !reserved[k] {
			res.Fields[k] = v
		}
	}
	*r = res
	return nil
}

// --- Locator ---

var (
	typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

const scheme = "://"

// Locator addresses a resource as "type://id".
type Locator struct {
	Type string
	ID   string
}

func (l Locator) String() string { return l.Type + scheme + l.ID }

// ParseLocator parses "type://id". Both parts must be non-empty and
// filesystem-safe.
func ParseLocator(s string) (Locator, error) {
	typ, id, ok := strings.Cut(s, scheme)
	if !ok {
		return Locator{}, errs.New(errs.InvalidArgument, "parse locator",
			fmt.Sprintf("locator %q must look like type://id", s))
	}
	if !typePattern.MatchString(typ) {
		return Locator{}, errs.New(errs.InvalidArgument, "parse locator",
			fmt.Sprintf("invalid resource type %q", typ))
	}
	if !idPattern.MatchString(id) {
		return Locator{}, errs.New(errs.InvalidArgument, "parse locator",
			fmt.Sprintf("invalid resource id %q", id))
	}
	return Locator{Type: typ, ID: id}, nil
}
