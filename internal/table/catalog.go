package table

import (
	"sort"
	"sync"

	"github.com/devrev/pagedb/internal/errors"
)

// Describer is implemented by every table regardless of row type
type Describer interface {
	Name() string
	Cols() []string
	Len() int
}

// Catalog is a registry of tables by name
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]Describer
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{tables: make(map[string]Describer)}
}

// Register adds a table. Names are unique.
func (c *Catalog) Register(t Describer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tables[t.Name()]; ok {
		return errors.InvalidArgument("table "+t.Name()+" already registered", nil)
	}
	c.tables[t.Name()] = t
	return nil
}

// Desc returns the column names of a table
func (c *Catalog) Desc(name string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[name]
	if !ok {
		return nil, errors.NotFound("table", name)
	}
	return t.Cols(), nil
}

// Tables returns the registered table names in sorted order
func (c *Catalog) Tables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
