// Package seed loads the reference list of locations and Wikipedia pages the
// pipeline extracts on every run.
package seed

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/warehouse-etl/internal/domain"
)

// Defaults applied to location entries that omit descriptive fields.
const (
	DefaultCountry = "US"
)

// File is the parsed seed document.
type File struct {
	Locations      []domain.LocationSeed `yaml:"locations"`
	WikipediaPages []domain.PageSeed     `yaml:"wikipedia_pages"`
}

// Load reads, defaults and validates the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document from YAML bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	for i := range f.Locations {
		l := &f.Locations[i]
		l.Name = strings.TrimSpace(l.Name)
		if l.Country == "" {
			l.Country = DefaultCountry
		}
		if l.City == "" {
			l.City = l.Name
		}
	}
	for i := range f.WikipediaPages {
		p := &f.WikipediaPages[i]
		p.Title = strings.TrimSpace(p.Title)
		if p.Language == "" {
			p.Language = domain.DefaultLanguage
		}
	}
}

// Validate checks required fields, coordinate ranges and duplicate keys.
func (f *File) Validate() error {
	var errs []error

	seenLoc := make(map[domain.LocationKey]bool, len(f.Locations))
	for i, l := range f.Locations {
		switch {
		case l.Name == "":
			errs = append(errs, fmt.Errorf("locations[%d]: name is required", i))
		case l.Latitude < -90 || l.Latitude > 90:
			errs = append(errs, fmt.Errorf("locations[%d] %s: latitude %v out of range", i, l.Name, l.Latitude))
		case l.Longitude < -180 || l.Longitude > 180:
			errs = append(errs, fmt.Errorf("locations[%d] %s: longitude %v out of range", i, l.Name, l.Longitude))
		case seenLoc[l.Key()]:
			errs = append(errs, fmt.Errorf("locations[%d]: duplicate location %s", i, l.Key()))
		}
		seenLoc[l.Key()] = true
	}

	type pageID struct{ title, lang string }
	seenPage := make(map[pageID]bool, len(f.WikipediaPages))
	for i, p := range f.WikipediaPages {
		id := pageID{p.Title, p.Language}
		switch {
		case p.Title == "":
			errs = append(errs, fmt.Errorf("wikipedia_pages[%d]: title is required", i))
		case seenPage[id]:
			errs = append(errs, fmt.Errorf("wikipedia_pages[%d]: duplicate page %s/%s", i, p.Language, p.Title))
		}
		seenPage[id] = true
	}

	if len(f.Locations) == 0 && len(f.WikipediaPages) == 0 {
		errs = append(errs, errors.New("seed file lists no locations and no pages"))
	}
	return errors.Join(errs...)
}
