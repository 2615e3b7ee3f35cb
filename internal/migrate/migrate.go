// Package migrate upgrades on-disk TOML documents one schema version at a
// time.
package migrate

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Document is a decoded TOML file. Nested tables are map[string]any.
type Document map[string]any

// Migration upgrades a document to Version.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Upgrade edits doc in place.
	Upgrade func(doc Document) error
}

// Registry holds the current version and migrations for one file kind.
type Registry struct {
	// CurrentVersion is the schema version written by this build.
	CurrentVersion int
	// migrations is kept sorted by Version.
	migrations []Migration
}

// NewRegistry returns a registry targeting current.
func NewRegistry(current int) *Registry {
	return &Registry{CurrentVersion: current}
}

// Register adds m. It panics on a duplicate version or a version beyond
// CurrentVersion, both of which are programming errors.
func (r *Registry) Register(m Migration) {
	if m.Version > r.CurrentVersion {
		panic(fmt.Sprintf("migrate: migration v%d beyond current version %d", m.Version, r.CurrentVersion))
	}
	for _, existing := range r.migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate migration version %d (description: %q)", m.Version, m.Description))
		}
	}
	r.migrations = append(r.migrations, m)
	sort.Slice(r.migrations, func(i, j int) bool {
		return r.migrations[i].Version < r.migrations[j].Version
	})
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// PeekVersion reads the top-level version key. Missing or zero means 1.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// NeedsMigration reports whether data is older than CurrentVersion.
func (r *Registry) NeedsMigration(data []byte) bool {
	return PeekVersion(data) < r.CurrentVersion
}

// Run applies every migration newer than the document's version and
// returns the re-encoded document stamped with CurrentVersion. Data that is
// already current is returned unchanged. A document newer than this build
// is an error.
func (r *Registry) Run(data []byte) ([]byte, error) {
	from := PeekVersion(data)
	if from > r.CurrentVersion {
		return nil, fmt.Errorf("schema version %d is newer than supported version %d", from, r.CurrentVersion)
	}
	if from == r.CurrentVersion {
		return data, nil
	}

	doc := Document{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	for _, m := range r.migrations {
		if m.Version <= from {
			continue
		}
		slog.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := m.Upgrade(doc); err != nil {
			return nil, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
	}
	doc["version"] = r.CurrentVersion

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}

// ///////////////////////////////////////////////
// Document Helpers
// ///////////////////////////////////////////////

// Table returns the nested table at key, creating it when create is set.
func (d Document) Table(key string, create bool) (Document, bool) {
	switch t := d[key].(type) {
	case map[string]any:
		return Document(t), true
	case Document:
		return t, true
	}
	if !create {
		return nil, false
	}
	t := map[string]any{}
	d[key] = t
	return Document(t), true
}

// Rename moves key from to key to within d. An existing destination key is
// left alone and the source is dropped.
func (d Document) Rename(from, to string) {
	v, ok := d[from]
	if !ok {
		return
	}
	delete(d, from)
	if _, exists := d[to]; !exists {
		d[to] = v
	}
}
