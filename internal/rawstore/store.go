// Package rawstore keeps verbatim provider responses on disk, one artifact per
// (source, variable, retrieval time).
package rawstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

const timestampLayout = "20060102_150405"

// ErrNotFound is returned by Latest when no artifact exists for a (source, variable).
var ErrNotFound = errors.New("no raw data found")

// FileStore writes artifacts as {root}/{source}/{source}_{variable}_{YYYYMMDD_HHMMSS}.json.
type FileStore struct {
	root  string
	clock clockwork.Clock
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, clock clockwork.Clock) *FileStore {
	return &FileStore{root: dir, clock: clock}
}

// Save writes body verbatim and returns a handle to it.
func (s *FileStore) Save(source, variable string, body []byte) (domain.RawBatch, error) {
	now := s.clock.Now().UTC()
	path := s.Path(source, variable, now)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return domain.RawBatch{}, fmt.Errorf("create raw data dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o640); err != nil {
		return domain.RawBatch{}, fmt.Errorf("write raw data: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.RawBatch{}, fmt.Errorf("commit raw data: %w", err)
	}

	return domain.RawBatch{
		Source:      source,
		Variable:    variable,
		Path:        path,
		Body:        body,
		RetrievedAt: now,
	}, nil
}

// Path returns the artifact path for a retrieval at t.
func (s *FileStore) Path(source, variable string, t time.Time) string {
	slug := Slug(source)
	name := fmt.Sprintf("%s_%s_%s.json", slug, variable, t.UTC().Format(timestampLayout))
	return filepath.Join(s.root, slug, name)
}

// Latest loads the most recent artifact for (source, variable).
func (s *FileStore) Latest(source, variable string) (domain.RawBatch, error) {
	slug := Slug(source)
	prefix := slug + "_" + variable + "_"
	entries, err := os.ReadDir(filepath.Join(s.root, slug))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.RawBatch{}, fmt.Errorf("%s/%s: %w", source, variable, ErrNotFound)
		}
		return domain.RawBatch{}, fmt.Errorf("list raw data: %w", err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ".json") {
			continue
		}
		// Reject names whose remainder is not a bare timestamp, so a variable
		// code that prefixes another (acled_riots vs acled_riots_x) never collides.
		if _, err := time.Parse(timestampLayout, strings.TrimSuffix(strings.TrimPrefix(n, prefix), ".json")); err != nil {
			continue
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return domain.RawBatch{}, fmt.Errorf("%s/%s: %w", source, variable, ErrNotFound)
	}
	sort.Strings(names)

	path := filepath.Join(s.root, slug, names[len(names)-1])
	batch, err := s.Load(path)
	if err != nil {
		return domain.RawBatch{}, err
	}
	batch.Source = source
	batch.Variable = variable
	return batch, nil
}

// Load reads an artifact by path. RetrievedAt is recovered from the file name.
func (s *FileStore) Load(path string) (domain.RawBatch, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return domain.RawBatch{}, fmt.Errorf("read raw data: %w", err)
	}
	batch := domain.RawBatch{Path: path, Body: body}
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	if len(base) > len(timestampLayout) {
		if t, err := time.Parse(timestampLayout, base[len(base)-len(timestampLayout):]); err == nil {
			batch.RetrievedAt = t
		}
	}
	return batch, nil
}

// Slug turns a source name into a file-safe directory name: "IDMC IDU" -> "idmc_idu".
func Slug(source string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(source)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
