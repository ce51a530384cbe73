package refresh

import (
	"fmt"
	"slices"
	"strings"
)

// Entry declares one refreshable table
type Entry struct {
	// Table is the identifier operators use
	Table string

	// DisplayName is used in reports, e.g. "Zone facts". Derived from Table when empty.
	DisplayName string

	// DependsOn lists the tables this one is computed from
	DependsOn []string

	// Loader performs the refresh
	Loader Loader
}

// Derived reports whether the table is computed from other tables
func (e Entry) Derived() bool {
	return len(e.DependsOn) > 0
}

func (e Entry) name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return displayName(e.Table)
}

// Registry is the fixed set of refreshable tables. It is built once at startup
// and never changes afterwards.
type Registry struct {
	entries map[string]Entry
	tables  []string
}

// NewRegistry validates the entries and builds a registry from them
func NewRegistry(entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one table must be registered")
	}

	r := &Registry{
		entries: make(map[string]Entry, len(entries)),
		tables:  make([]string, 0, len(entries)),
	}

	for i, entry := range entries {
		if entry.Table == "" {
			return nil, fmt.Errorf("entry[%d]: table is required", i)
		}
		if entry.Loader == nil {
			return nil, fmt.Errorf("entry[%d] (%s): loader is required", i, entry.Table)
		}
		if _, exists := r.entries[entry.Table]; exists {
			return nil, fmt.Errorf("entry[%d]: duplicate table '%s'", i, entry.Table)
		}
		entry.DependsOn = slices.Clone(entry.DependsOn)
		r.entries[entry.Table] = entry
		r.tables = append(r.tables, entry.Table)
	}

	for _, entry := range r.entries {
		for _, dep := range entry.DependsOn {
			if dep == entry.Table {
				return nil, fmt.Errorf("table '%s' cannot depend on itself", entry.Table)
			}
			if _, ok := r.entries[dep]; !ok {
				return nil, fmt.Errorf("table '%s' depends on unregistered table '%s'", entry.Table, dep)
			}
		}
	}

	slices.Sort(r.tables)
	return r, nil
}

// Resolve returns the loader registered for table
func (r *Registry) Resolve(table string) (Loader, error) {
	entry, err := r.lookup(table)
	if err != nil {
		return nil, err
	}
	return entry.Loader, nil
}

// Entry returns a copy of the entry registered for table
func (r *Registry) Entry(table string) (Entry, bool) {
	entry, ok := r.entries[table]
	if !ok {
		return Entry{}, false
	}
	entry.DependsOn = slices.Clone(entry.DependsOn)
	return entry, true
}

// Tables returns the registered identifiers in sorted order
func (r *Registry) Tables() []string {
	return slices.Clone(r.tables)
}

func (r *Registry) lookup(table string) (Entry, error) {
	entry, ok := r.entries[table]
	if !ok {
		return Entry{}, &UnknownTableError{Table: table, Valid: r.Tables()}
	}
	return entry, nil
}

// displayName turns "zone_facts" into "Zone facts"
func displayName(table string) string {
	if table == "" {
		return table
	}
	name := strings.ReplaceAll(table, "_", " ")
	return strings.ToUpper(name[:1]) + name[1:]
}
