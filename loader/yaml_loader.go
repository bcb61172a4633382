package loader

import (
	"fmt"
	"os"

	"github.com/ridoystarlord/persisto/schema"
	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Schema string      `yaml:"schema"`
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Name      string       `yaml:"name"`
	SQLName   string       `yaml:"sql_name"`
	Schema    string       `yaml:"schema"`
	Versioned bool         `yaml:"versioned"`
	Extends   string       `yaml:"extends"`
	Keys      []yamlKey    `yaml:"keys"`
	Columns   []yamlColumn `yaml:"columns"`
	ToOne     []yamlToOne  `yaml:"to_one"`
	ToMany    []yamlToMany `yaml:"to_many"`
}

type yamlColumn struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column"`
	Type     string `yaml:"type"`
	NotNull  bool   `yaml:"not_null"`
	ReadOnly bool   `yaml:"read_only"`
	Enum     bool   `yaml:"enum"`
	Default  any    `yaml:"default"`
}

type yamlKey struct {
	yamlColumn    `yaml:",inline"`
	AutoIncrement bool `yaml:"auto_increment"`
	Unset         any  `yaml:"unset"`
}

type yamlToOne struct {
	Name       string   `yaml:"name"`
	Table      string   `yaml:"table"`
	Cascade    []string `yaml:"cascade"`
	Fetch      string   `yaml:"fetch"`
	NotNull    bool     `yaml:"not_null"`
	LinkPrefix string   `yaml:"link_prefix"`
}

type yamlToMany struct {
	Name          string   `yaml:"name"`
	Table         string   `yaml:"table"`
	Cascade       []string `yaml:"cascade"`
	Fetch         string   `yaml:"fetch"`
	OrphanRemoval bool     `yaml:"orphan_removal"`
	PageSize      int      `yaml:"page_size"`
	Inverse       string   `yaml:"inverse"`
}

// Document is a parsed schema file.
type Document struct {
	Schema string
	Tables []schema.TableDef
}

// LoadYAML reads a schema definition file.
func LoadYAML(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML converts YAML schema definitions into table definitions.
func ParseYAML(data []byte) (*Document, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	doc := &Document{Schema: yf.Schema}
	for _, t := range yf.Tables {
		def := schema.TableDef{
			Name:      t.Name,
			SQLName:   t.SQLName,
			Schema:    t.Schema,
			Versioned: t.Versioned,
			Extends:   t.Extends,
		}
		for _, k := range t.Keys {
			def.Keys = append(def.Keys, schema.KeyDef{
				FieldDef:      fieldDef(k.yamlColumn),
				AutoIncrement: k.AutoIncrement,
				Unset:         k.Unset,
			})
		}
		for _, c := range t.Columns {
			def.Fields = append(def.Fields, fieldDef(c))
		}
		for _, r := range t.ToOne {
			cascade, err := schema.ParseCascade(r.Cascade...)
			if err != nil {
				return nil, fmt.Errorf("table %s, relationship %s: %w", t.Name, r.Name, err)
			}
			fetch, err := schema.ParseFetch(r.Fetch)
			if err != nil {
				return nil, fmt.Errorf("table %s, relationship %s: %w", t.Name, r.Name, err)
			}
			def.ToOne = append(def.ToOne, schema.ToOneDef{
				Property:   r.Name,
				Table:      r.Table,
				Cascade:    cascade,
				Fetch:      fetch,
				NotNull:    r.NotNull,
				LinkPrefix: r.LinkPrefix,
			})
		}
		for _, r := range t.ToMany {
			cascade, err := schema.ParseCascade(r.Cascade...)
			if err != nil {
				return nil, fmt.Errorf("table %s, collection %s: %w", t.Name, r.Name, err)
			}
			fetch, err := schema.ParseFetch(r.Fetch)
			if err != nil {
				return nil, fmt.Errorf("table %s, collection %s: %w", t.Name, r.Name, err)
			}
			def.ToMany = append(def.ToMany, schema.ToManyDef{
				Property:      r.Name,
				Table:         r.Table,
				Cascade:       cascade,
				Fetch:         fetch,
				OrphanRemoval: r.OrphanRemoval,
				PageSize:      r.PageSize,
				Inverse:       r.Inverse,
			})
		}
		doc.Tables = append(doc.Tables, def)
	}

	return doc, nil
}

// Build links the document into a registry. The document's schema is the
// default for tables that declare none unless opts override it.
func (d *Document) Build(opts ...schema.BuildOption) (*schema.Registry, error) {
	all := append([]schema.BuildOption{schema.WithDefaultSchema(d.Schema)}, opts...)
	return schema.Build(d.Tables, all...)
}

func fieldDef(c yamlColumn) schema.FieldDef {
	return schema.FieldDef{
		Property: c.Name,
		SQLName:  c.Column,
		Type:     c.Type,
		NotNull:  c.NotNull,
		ReadOnly: c.ReadOnly,
		Enum:     c.Enum,
		Default:  c.Default,
	}
}
