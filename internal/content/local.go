package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ucaep.org/internal/ids"
)

// LocalStore is the fallback backend: one ordered collection per entity kind,
// serialized to a single JSON file after every mutation and loaded at
// construction. It is the only backend available in detached mode.
//
// The file is shared state with last-writer-wins semantics; concurrent
// processes can race on it and that is accepted.
type LocalStore struct {
	mu   sync.Mutex
	path string // empty disables persistence (memory only)
	cols map[Kind][]Record
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore loads the collections from path if the file exists. An empty
// path keeps the store purely in memory.
func NewLocalStore(path string) (*LocalStore, error) {
	s := &LocalStore{
		path: path,
		cols: make(map[Kind][]Record),
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local store: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.cols); err != nil {
		return nil, fmt.Errorf("local store: decode %s: %w", path, err)
	}
	return s, nil
}

func (s *LocalStore) Create(ctx context.Context, kind Kind, fields Fields) (Record, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	rec := Record{
		ID:        ids.NewLocal(string(kind)),
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    fields.Clone(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols[kind] = append(s.cols[kind], rec)
	if err := s.persist(); err != nil {
		return Record{}, err
	}
	return copyRecord(rec), nil
}

func (s *LocalStore) FetchAll(ctx context.Context, kind Kind, opts ListOptions) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.cols[kind] {
		if matchesFilters(rec, opts.Filters) {
			out = append(out, copyRecord(rec))
		}
	}
	orderRecords(out, opts.OrderBy, opts.Descending)
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s *LocalStore) FetchByID(ctx context.Context, kind Kind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.cols[kind] {
		if rec.ID == id {
			return copyRecord(rec), nil
		}
	}
	return Record{}, ErrNotFound
}

func (s *LocalStore) Update(ctx context.Context, kind Kind, id string, fields Fields) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.cols[kind] {
		if rec.ID != id {
			continue
		}
		merged := rec.Fields.Clone()
		for k, v := range fields {
			merged[k] = v
		}
		rec.Fields = merged
		rec.UpdatedAt = time.Now().UTC()
		s.cols[kind][i] = rec
		if err := s.persist(); err != nil {
			return Record{}, err
		}
		return copyRecord(rec), nil
	}
	return Record{}, ErrNotFound
}

func (s *LocalStore) Delete(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.cols[kind]
	for i, rec := range col {
		if rec.ID != id {
			continue
		}
		s.cols[kind] = append(col[:i:i], col[i+1:]...)
		return s.persist()
	}
	return ErrNotFound
}

func (s *LocalStore) Search(ctx context.Context, kind Kind, term string, fields []string) ([]Record, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.cols[kind] {
		if term == "" || matchesTerm(rec, term, fields) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// persist writes the whole store; callers hold the mutex.
func (s *LocalStore) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.cols, "", "  ")
	if err != nil {
		return fmt.Errorf("local store: encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("local store: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("local store: write %s: %w", s.path, err)
	}
	return nil
}

func matchesFilters(rec Record, filters map[string]any) bool {
	for key, want := range filters {
		if want == nil {
			continue
		}
		if s, ok := want.(string); ok && s == "" {
			continue
		}
		got, ok := fieldValue(rec, key)
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func matchesTerm(rec Record, term string, fields []string) bool {
	for _, f := range fields {
		v, ok := fieldValue(rec, f)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), term) {
			return true
		}
	}
	return false
}

func fieldValue(rec Record, name string) (any, bool) {
	switch name {
	case "id":
		return rec.ID, true
	case "createdAt":
		return rec.CreatedAt, true
	case "updatedAt":
		return rec.UpdatedAt, true
	}
	v, ok := rec.Fields[name]
	return v, ok
}

func orderRecords(recs []Record, orderBy string, descending bool) {
	if orderBy == "" {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		less := recordLess(recs[i], recs[j], orderBy)
		if descending {
			return recordLess(recs[j], recs[i], orderBy)
		}
		return less
	})
}

func recordLess(a, b Record, field string) bool {
	switch field {
	case "createdAt":
		return a.CreatedAt.Before(b.CreatedAt)
	case "updatedAt":
		return a.UpdatedAt.Before(b.UpdatedAt)
	case "id":
		return a.ID < b.ID
	}
	av, _ := fieldValue(a, field)
	bv, _ := fieldValue(b, field)
	return fmt.Sprint(av) < fmt.Sprint(bv)
}

func paginate(recs []Record, limit, offset int) []Record {
	if offset > 0 {
		if offset >= len(recs) {
			return []Record{}
		}
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

func copyRecord(rec Record) Record {
	out := rec
	out.Fields = rec.Fields.Clone()
	if len(rec.Degraded) > 0 {
		out.Degraded = append([]string(nil), rec.Degraded...)
	}
	return out
}
