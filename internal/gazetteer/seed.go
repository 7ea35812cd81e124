package gazetteer

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

// Seed is the on-disk fixture format for canonical locations and source aliases.
type Seed struct {
	Locations []SeedLocation `yaml:"locations" validate:"required,min=1,dive"`
	Entries   []SeedEntry    `yaml:"entries" validate:"dive"`
}

// SeedLocation is one canonical location row. Aliases declared inline expand
// into gazetteer entries pointing at this location.
type SeedLocation struct {
	ID         string              `yaml:"id" validate:"required"`
	Name       string              `yaml:"name" validate:"required"`
	AdminLevel int                 `yaml:"admin_level" validate:"min=0,max=3"`
	Parent     string              `yaml:"parent"`
	Code       string              `yaml:"code"`
	Aliases    map[string][]string `yaml:"aliases"`
}

// SeedEntry is an explicit gazetteer entry.
type SeedEntry struct {
	Name     string `yaml:"name" validate:"required"`
	Source   string `yaml:"source" validate:"required"`
	Location string `yaml:"location" validate:"required"`
	Code     string `yaml:"code"`
}

var validate = validator.New()

// LoadFile reads a YAML seed from path and builds an Index.
func LoadFile(path string) (*Index, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied seed path
	if err != nil {
		return nil, fmt.Errorf("open gazetteer seed: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML seed and builds an Index. Locations must be
// listed parent-first.
func Load(r io.Reader) (*Index, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode gazetteer seed: %w", err)
	}
	return Build(seed)
}

// Build validates seed and turns it into an Index.
func Build(seed Seed) (*Index, error) {
	if err := validate.Struct(seed); err != nil {
		return nil, fmt.Errorf("validate gazetteer seed: %w", err)
	}

	ix := New()
	var errs []error
	for _, l := range seed.Locations {
		err := ix.AddLocation(domain.Location{
			ID:         l.ID,
			Name:       l.Name,
			AdminLevel: domain.AdminLevel(l.AdminLevel),
			ParentID:   l.Parent,
			Code:       l.Code,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, l := range seed.Locations {
		for _, source := range slices.Sorted(maps.Keys(l.Aliases)) {
			for _, name := range l.Aliases[source] {
				if err := ix.AddEntry(domain.GazetteerEntry{Name: name, Source: source, LocationID: l.ID, Code: l.Code}); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	for _, e := range seed.Entries {
		if err := ix.AddEntry(domain.GazetteerEntry{Name: e.Name, Source: e.Source, LocationID: e.Location, Code: e.Code}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ix, nil
}
