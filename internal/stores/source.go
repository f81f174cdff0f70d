package stores

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Source lists the canonical store names committed so far
type Source interface {
	KnownStoreNames(ctx context.Context) ([]string, error)
}

// Commit persists the caller's record under the chosen canonical name
type Commit func(ctx context.Context, name string) error

// Claimer is a Source that can pick and record a canonical name atomically.
// decide receives a snapshot of the known names and returns the name to use.
// commit, when not nil, runs next within the same serialized step, and the
// name is inserted if absent only when commit succeeds.
type Claimer interface {
	Source
	ClaimStoreName(ctx context.Context, decide func(known []string) (string, error), commit Commit) (string, error)
}

// StaticSource is an in-memory Source
type StaticSource struct {
	mu    sync.Mutex
	names []string
}

// NewStaticSource returns a source seeded with names
func NewStaticSource(names ...string) *StaticSource {
	return &StaticSource{names: slices.Clone(names)}
}

// KnownStoreNames returns a copy of the names in insertion order
func (s *StaticSource) KnownStoreNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.names), nil
}

// ClaimStoreName runs decide and commit and records the name under one lock
func (s *StaticSource) ClaimStoreName(ctx context.Context, decide func(known []string) (string, error), commit Commit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := decide(slices.Clone(s.names))
	if err != nil {
		return "", err
	}
	if commit != nil {
		if err := commit(ctx, name); err != nil {
			return "", err
		}
	}
	if !slices.Contains(s.names, name) {
		s.names = append(s.names, name)
	}
	return name, nil
}

// AliasEntry is one canonical store and the spellings that map to it
type AliasEntry struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type aliasFile struct {
	Stores []AliasEntry `yaml:"stores"`
}

// AliasTable is a fixed lookup table of canonical stores. It never records new names.
type AliasTable struct {
	entries []AliasEntry
	lookup  map[string]string
}

// LoadAliasTable reads an alias table from a YAML file
func LoadAliasTable(path string) (*AliasTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening alias table: %w", err)
	}
	defer f.Close()
	return ParseAliasTable(f)
}

// ParseAliasTable reads an alias table in the form
//
//	stores:
//	  - name: Whole Foods Market
//	    aliases: [WFM, Whole Foods]
func ParseAliasTable(r io.Reader) (*AliasTable, error) {
	var file aliasFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding alias table: %w", err)
	}
	return NewAliasTable(file.Stores)
}

// NewAliasTable builds a table from entries. An alias claimed by two stores is an error.
func NewAliasTable(entries []AliasEntry) (*AliasTable, error) {
	t := &AliasTable{lookup: make(map[string]string)}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("alias table entry without a name")
		}
		t.entries = append(t.entries, AliasEntry{Name: name, Aliases: e.Aliases})
		for _, alias := range append([]string{name}, e.Aliases...) {
			key := processName(alias)
			if key == "" {
				continue
			}
			if existing, ok := t.lookup[key]; ok && existing != name {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", alias, existing, name)
			}
			t.lookup[key] = name
		}
	}
	return t, nil
}

// Lookup returns the canonical name for an exact alias, ignoring case and punctuation
func (t *AliasTable) Lookup(raw string) (string, bool) {
	name, ok := t.lookup[processName(raw)]
	return name, ok
}

// KnownStoreNames returns the canonical names in file order
func (t *AliasTable) KnownStoreNames(ctx context.Context) ([]string, error) {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Name
	}
	return names, nil
}
