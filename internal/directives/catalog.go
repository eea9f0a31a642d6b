// Package directives loads the catalog of design directives that parameterize
// generation attempts.
package directives

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/siteforge/internal/types"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog is an ordered, ID-indexed set of directives.
type Catalog struct {
	ordered []types.DesignDirective
	byID    map[types.DirectiveID]types.DesignDirective
}

type catalogFile struct {
	Directives []types.DesignDirective `yaml:"directives"`
}

var (
	defaultCatalog *Catalog
	defaultErr     error
	defaultOnce    sync.Once
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(catalogYAML)
	})
	return defaultCatalog, defaultErr
}

// Parse decodes a YAML catalog. Unknown or duplicate IDs and directives
// without a palette are rejected.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse directive catalog: %w", err)
	}
	if len(file.Directives) == 0 {
		return nil, fmt.Errorf("directive catalog is empty")
	}

	c := &Catalog{byID: make(map[types.DirectiveID]types.DesignDirective, len(file.Directives))}
	for _, d := range file.Directives {
		if !d.ID.Valid() {
			return nil, fmt.Errorf("unknown directive id %q", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate directive id %q", d.ID)
		}
		if d.Palette.Primary == "" || d.Palette.Background == "" || d.Palette.Text == "" {
			return nil, fmt.Errorf("directive %q: palette needs primary, background and text colours", d.ID)
		}
		c.byID[d.ID] = d
		c.ordered = append(c.ordered, d)
	}
	return c, nil
}

// All returns every directive in catalog order.
func (c *Catalog) All() []types.DesignDirective {
	return append([]types.DesignDirective(nil), c.ordered...)
}

// Get returns the directive with the given ID.
func (c *Catalog) Get(id types.DirectiveID) (types.DesignDirective, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Resolve maps IDs to directives in the given order. An empty list selects the
// whole catalog; an unknown or repeated ID is an error.
func (c *Catalog) Resolve(ids []types.DirectiveID) ([]types.DesignDirective, error) {
	if len(ids) == 0 {
		return c.All(), nil
	}
	seen := make(map[types.DirectiveID]bool, len(ids))
	out := make([]types.DesignDirective, 0, len(ids))
	for _, id := range ids {
		d, ok := c.byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown directive %q", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("directive %q requested twice", id)
		}
		seen[id] = true
		out = append(out, d)
	}
	return out, nil
}
