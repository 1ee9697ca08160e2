// Package manifest handles classlink.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/classlink/linker"
)

// FileName is the manifest file looked up in project directories.
const FileName = "classlink.toml"

// BootName is the reserved name of the boot context.
const BootName = "boot"

// Manifest represents a classlink.toml project configuration.
type Manifest struct {
	Linker   LinkerConfig    `toml:"linker"`
	Boot     BootConfig      `toml:"boot"`
	Contexts []ContextConfig `toml:"context"`
	Layout   LayoutConfig    `toml:"layout"`

	// Dir is the directory containing the classlink.toml file (set at load time).
	Dir string `toml:"-"`
}

// LinkerConfig mirrors linker.Options.
type LinkerConfig struct {
	Root       string `toml:"root"`
	MaxDepth   int    `toml:"max-depth"`
	DumpTables bool   `toml:"dump-tables"`
}

// BootConfig lists the files owned by the boot context.
type BootConfig struct {
	Files []string `toml:"files"`
}

// ContextConfig declares one user context.
type ContextConfig struct {
	Name   string   `toml:"name"`
	Parent string   `toml:"parent"`
	Kind   string   `toml:"kind"`
	Files  []string `toml:"files"`
}

// LayoutConfig configures the layout database.
type LayoutConfig struct {
	Database string `toml:"database"`
}

// Load parses a classlink.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, err
	}

	// Defaults
	if m.Linker.Root == "" {
		m.Linker.Root = linker.DefaultRoot
	}
	if m.Linker.MaxDepth <= 0 {
		m.Linker.MaxDepth = linker.DefaultMaxDepth
	}
	for i := range m.Contexts {
		if m.Contexts[i].Parent == "" {
			m.Contexts[i].Parent = BootName
		}
		if m.Contexts[i].Kind == "" {
			m.Contexts[i].Kind = linker.LinkerAbc.String()
		}
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a classlink.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Options returns the linker options the manifest asks for.
func (m *Manifest) Options() linker.Options {
	return linker.Options{
		Root:       m.Linker.Root,
		MaxDepth:   m.Linker.MaxDepth,
		DumpTables: m.Linker.DumpTables,
	}
}

// Path resolves a manifest-relative path.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LayoutPath returns the layout database path, or "" if none is configured.
func (m *Manifest) LayoutPath() string {
	return m.Path(m.Layout.Database)
}

// Context returns the declaration of the named context.
func (m *Manifest) Context(name string) (ContextConfig, bool) {
	for _, c := range m.Contexts {
		if c.Name == name {
			return c, true
		}
	}
	return ContextConfig{}, false
}
