package collector

import (
	"fmt"
	"strings"

	"filesweep/internal/config"
)

// FieldSpec describes one file-bearing attribute of an entity.
type FieldSpec struct {
	Name            string
	Kind            SourceKind
	FlagColumn      string
	FilenameColumn  string
	URLColumn       string
	LegacyURLColumn string
	JSONColumn      string
	JSONPath        string
	AssetClass      string
	Visibility      string
}

// PolymorphicSpec resolves relation rows to their owning entity.
type PolymorphicSpec struct {
	TypeColumn    string
	OwnerIDColumn string
	TypeMap       map[string]string
}

// EntitySpec describes where one table records expected files.
type EntitySpec struct {
	Type        string
	Table       string
	IDColumn    string
	Visibility  string
	AssetClass  string
	Fields      []FieldSpec
	Polymorphic *PolymorphicSpec
}

// Columns lists every column the entity's strategies read.
func (e EntitySpec) Columns() []string {
	cols := []string{e.IDColumn}
	add := func(names ...string) {
		for _, name := range names {
			if name != "" {
				cols = append(cols, name)
			}
		}
	}
	for _, f := range e.Fields {
		add(f.FlagColumn, f.FilenameColumn, f.URLColumn, f.LegacyURLColumn, f.JSONColumn)
	}
	if e.Polymorphic != nil {
		add(e.Polymorphic.TypeColumn, e.Polymorphic.OwnerIDColumn)
	}
	return cols
}

// Catalog is the closed set of entities the collector walks.
type Catalog struct {
	Entities []EntitySpec
	byType   map[string]EntitySpec
}

// NewCatalog indexes entities by type.
func NewCatalog(entities []EntitySpec) (Catalog, error) {
	c := Catalog{Entities: entities, byType: make(map[string]EntitySpec, len(entities))}
	for _, e := range entities {
		if _, dup := c.byType[e.Type]; dup {
			return Catalog{}, fmt.Errorf("catalog: duplicate entity type %q", e.Type)
		}
		for _, f := range e.Fields {
			if _, ok := StrategyFor(f.Kind); !ok {
				return Catalog{}, fmt.Errorf("catalog: entity %s field %s has unknown kind %q", e.Type, f.Name, f.Kind)
			}
		}
		c.byType[e.Type] = e
	}
	for _, e := range entities {
		if e.Polymorphic == nil {
			continue
		}
		for raw, target := range e.Polymorphic.TypeMap {
			if _, ok := c.byType[target]; !ok {
				return Catalog{}, fmt.Errorf("catalog: entity %s maps %q to unknown type %q", e.Type, raw, target)
			}
		}
	}
	return c, nil
}

// Lookup returns the entity with the given type.
func (c Catalog) Lookup(entityType string) (EntitySpec, bool) {
	e, ok := c.byType[entityType]
	return e, ok
}

// CatalogFromConfig converts validated [[entities]] blocks.
func CatalogFromConfig(entities []config.Entity) (Catalog, error) {
	specs := make([]EntitySpec, 0, len(entities))
	for _, e := range entities {
		spec := EntitySpec{
			Type:       e.Type,
			Table:      e.Table,
			IDColumn:   e.IDColumn,
			Visibility: e.Visibility,
			AssetClass: e.AssetClass,
		}
		if spec.IDColumn == "" {
			spec.IDColumn = "id"
		}
		for _, f := range e.Fields {
			spec.Fields = append(spec.Fields, FieldSpec{
				Name:            f.Name,
				Kind:            SourceKind(strings.ToLower(f.Kind)),
				FlagColumn:      f.FlagColumn,
				FilenameColumn:  f.FilenameColumn,
				URLColumn:       f.URLColumn,
				LegacyURLColumn: f.LegacyURLColumn,
				JSONColumn:      f.JSONColumn,
				JSONPath:        f.JSONPath,
				AssetClass:      f.AssetClass,
				Visibility:      f.Visibility,
			})
		}
		if e.Polymorphic != nil {
			spec.Polymorphic = &PolymorphicSpec{
				TypeColumn:    e.Polymorphic.TypeColumn,
				OwnerIDColumn: e.Polymorphic.OwnerIDColumn,
				TypeMap:       e.Polymorphic.TypeMap,
			}
		}
		specs = append(specs, spec)
	}
	return NewCatalog(specs)
}
