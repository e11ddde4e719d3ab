// Package sources holds the static per-collection configuration: which
// fields name the contracting party, the display label, and the alias lists
// used to read the remaining policy fields.
package sources

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultTable []byte

var ErrUnknownSource = errors.New("unknown source")

// Source describes one line-of-business collection.
type Source struct {
	Name       string   `yaml:"name" json:"name" validate:"required,lowercase,excludesall=/"`
	Label      string   `yaml:"label" json:"label" validate:"required"`
	NameFields []string `yaml:"name_fields" json:"nameFields" validate:"required,min=1,dive,required"`
}

// Fields lists, per logical policy attribute, the record keys to probe in order.
type Fields struct {
	PolicyNumber []string `yaml:"policy_number" validate:"required,min=1,dive,required"`
	Insurer      []string `yaml:"insurer" validate:"required,min=1,dive,required"`
	Start        []string `yaml:"start" validate:"required,min=1,dive,required"`
	End          []string `yaml:"end" validate:"required,min=1,dive,required"`
	Frequency    []string `yaml:"frequency" validate:"required,min=1,dive,required"`
	Premium      []string `yaml:"premium" validate:"required,min=1,dive,required"`
	Email        []string `yaml:"email" validate:"required,min=1,dive,required"`
	RFC          []string `yaml:"rfc" validate:"required,min=1,dive,required"`
	Phone        []string `yaml:"phone" validate:"required,min=1,dive,required"`
	Address      []string `yaml:"address" validate:"required,min=1,dive,required"`
	Agent        []string `yaml:"agent" validate:"required,min=1,dive,required"`
}

// Table is the validated source configuration.
type Table struct {
	DefaultNameFields []string `yaml:"default_name_fields" validate:"required,min=1,dive,required"`
	Fields            Fields   `yaml:"fields"`
	Sources           []Source `yaml:"sources" validate:"required,min=1,unique=Name,dive"`

	byName map[string]Source
}

// Default returns the embedded table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads the table from path, or the embedded default when path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML table.
func Parse(raw []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var table Table
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("decode sources table: %w", err)
	}
	if err := validator.New().Struct(&table); err != nil {
		return nil, fmt.Errorf("validate sources table: %w", err)
	}

	table.byName = make(map[string]Source, len(table.Sources))
	for _, src := range table.Sources {
		table.byName[src.Name] = src
	}
	return &table, nil
}

// Names returns the configured source names in table order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Sources))
	for _, src := range t.Sources {
		names = append(names, src.Name)
	}
	return names
}

func (t *Table) Lookup(name string) (Source, bool) {
	src, ok := t.byName[name]
	return src, ok
}

// NameFields returns the ordered name fields for a source, falling back to the
// default list for sources the table does not know.
func (t *Table) NameFields(name string) []string {
	if src, ok := t.byName[name]; ok {
		return src.NameFields
	}
	return t.DefaultNameFields
}

// Label returns the display label, or the raw name for unknown sources.
func (t *Table) Label(name string) string {
	if src, ok := t.byName[name]; ok {
		return src.Label
	}
	return name
}

// CollectionName maps a source to its physical collection for a team. The
// primary team reads the bare collections; every other team has its own
// prefixed copy.
func (t *Table) CollectionName(team, primaryTeam, source string) (string, error) {
	if _, ok := t.byName[source]; !ok {
		return "", fmt.Errorf("collection for %q: %w", source, ErrUnknownSource)
	}
	if team == "" || team == primaryTeam {
		return source, nil
	}
	return "team_" + team + "_" + source, nil
}

// FirstString returns the first non-blank string value among keys. Numbers are
// accepted and formatted, since some imports stored identifiers as numbers.
func FirstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int, int64:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}

// FirstValue returns the first present, non-nil, non-blank value among keys.
func FirstValue(fields map[string]any, keys []string) any {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}
