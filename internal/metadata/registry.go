package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zigindex/indexer/internal/domain"
)

// assetEntry is one curated row of the static registry file, matched
// against a live denom by any of base/display/alias/symbol (spec §4.K
// step 4).
type assetEntry struct {
	Base        string   `yaml:"base"`
	Display     string   `yaml:"display"`
	Aliases     []string `yaml:"aliases"`
	Symbol      string   `yaml:"symbol"`
	Name        string   `yaml:"name"`
	Exponent    *int     `yaml:"exponent"`
	Image       string   `yaml:"image"`
	Website     string   `yaml:"website"`
	Twitter     string   `yaml:"twitter"`
	Telegram    string   `yaml:"telegram"`
	Description string   `yaml:"description"`
}

// Registry is the parsed static curated asset list, indexed by every
// key an incoming denom might be looked up under.
type Registry struct {
	byKey map[string]assetEntry
}

// LoadRegistry parses a YAML asset list from path. A missing file is
// not an error — the registry degrades to empty, and metadata merges
// proceed with LCD-only data.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return &Registry{byKey: map[string]assetEntry{}}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{byKey: map[string]assetEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: read asset registry: %w", err)
	}

	var entries []assetEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("metadata: parse asset registry: %w", err)
	}

	r := &Registry{byKey: make(map[string]assetEntry, len(entries)*2)}
	for _, e := range entries {
		for _, key := range e.keys() {
			r.byKey[key] = e
		}
	}
	return r, nil
}

// Keys lists every denom/alias/symbol key the registry answers for, for
// the registry poll loop to re-merge onto already-indexed tokens.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

func (e assetEntry) keys() []string {
	keys := make([]string, 0, 4+len(e.Aliases))
	for _, k := range []string{e.Base, e.Display, e.Symbol} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	keys = append(keys, e.Aliases...)
	return keys
}

// Merge applies the curated row matching denom onto patch. The
// registry is the preferred source for curated identity fields, so it
// overwrites whatever LCD metadata already put in patch; it never
// writes a null, so an LCD value survives wherever the registry has no
// entry for that field (spec §4.K step 5).
func (r *Registry) Merge(patch *domain.Token, denom string) {
	e, ok := r.byKey[denom]
	if !ok {
		return
	}
	if e.Name != "" {
		patch.Name = &e.Name
	}
	if e.Symbol != "" {
		patch.Symbol = &e.Symbol
	}
	if e.Display != "" {
		patch.DisplayUnit = &e.Display
	}
	if e.Image != "" {
		patch.Image = &e.Image
	}
	if e.Website != "" {
		patch.Website = &e.Website
	}
	if e.Twitter != "" {
		patch.Twitter = &e.Twitter
	}
	if e.Telegram != "" {
		patch.Telegram = &e.Telegram
	}
	if e.Description != "" {
		patch.Description = &e.Description
	}
	if e.Exponent != nil {
		patch.Exponent = *e.Exponent
	}
}
