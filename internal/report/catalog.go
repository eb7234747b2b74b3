package report

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/report-extractor/internal/table"
	"gopkg.in/yaml.v3"
)

//go:embed variants.yaml
var defaultVariants []byte

// ErrUnknownVariant is returned when no report variant matches a lookup.
var ErrUnknownVariant = errors.New("report: unknown report variant")

// Institution identifies the institution type a report belongs to.
type Institution string

const (
	Syariah      Institution = "syariah"
	Konvensional Institution = "konvensional"
)

// Kind identifies the financial statement a report covers.
type Kind string

const (
	IncomeStatement Kind = "laba-rugi"
	BalanceSheet    Kind = "laporan-keuangan"
)

// Variant pairs a vocabulary with the schema of one report type.
type Variant struct {
	Institution Institution `yaml:"institution"`
	Kind        Kind        `yaml:"kind"`
	Vocabulary  Vocabulary  `yaml:"vocabulary"`
	Schema      Schema      `yaml:"schema"`
}

// Reshape applies the variant to a table.
func (v Variant) Reshape(t table.Table) Result {
	return Reshape(t, v.Vocabulary, v.Schema)
}

type catalogFile struct {
	Institutions map[string][]string `yaml:"institutions"`
	Kinds        map[string][]string `yaml:"kinds"`
	Variants     []Variant           `yaml:"variants"`
}

type variantKey struct {
	institution Institution
	kind        Kind
}

// Catalog resolves report variants by institution and kind identifiers,
// including their aliases.
type Catalog struct {
	institutions map[string]Institution
	kinds        map[string]Kind
	variants     map[variantKey]Variant
}

// LoadCatalog parses a catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("LoadCatalog: parse: %w", err)
	}

	c := &Catalog{
		institutions: make(map[string]Institution),
		kinds:        make(map[string]Kind),
		variants:     make(map[variantKey]Variant),
	}
	for name, aliases := range file.Institutions {
		for _, id := range append([]string{name}, aliases...) {
			c.institutions[strings.ToLower(id)] = Institution(name)
		}
	}
	for name, aliases := range file.Kinds {
		for _, id := range append([]string{name}, aliases...) {
			c.kinds[strings.ToLower(id)] = Kind(name)
		}
	}

	for i, v := range file.Variants {
		if err := c.validate(v); err != nil {
			return nil, fmt.Errorf("LoadCatalog: variant %d: %w", i, err)
		}
		key := variantKey{v.Institution, v.Kind}
		if _, dup := c.variants[key]; dup {
			return nil, fmt.Errorf("LoadCatalog: variant %d: duplicate %s/%s", i, v.Institution, v.Kind)
		}
		c.variants[key] = v
	}
	return c, nil
}

func (c *Catalog) validate(v Variant) error {
	if _, ok := c.institutions[string(v.Institution)]; !ok {
		return fmt.Errorf("undeclared institution %q", v.Institution)
	}
	if _, ok := c.kinds[string(v.Kind)]; !ok {
		return fmt.Errorf("undeclared kind %q", v.Kind)
	}
	if len(v.Schema) == 0 {
		return errors.New("empty schema")
	}
	seen := make(map[string]bool, len(v.Schema))
	for _, f := range v.Schema {
		if seen[f] {
			return fmt.Errorf("schema field %q repeated", f)
		}
		seen[f] = true
	}
	return nil
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return LoadCatalog(defaultVariants)
})

// DefaultCatalog returns the catalog of built-in report variants.
func DefaultCatalog() (*Catalog, error) {
	return loadDefault()
}

// ParseInstitution resolves an institution identifier or alias.
func (c *Catalog) ParseInstitution(s string) (Institution, error) {
	inst, ok := c.institutions[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: institution %q", ErrUnknownVariant, s)
	}
	return inst, nil
}

// ParseKind resolves a report kind identifier or alias.
func (c *Catalog) ParseKind(s string) (Kind, error) {
	kind, ok := c.kinds[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: kind %q", ErrUnknownVariant, s)
	}
	return kind, nil
}

// Lookup returns the variant for an institution and kind, both given as
// identifiers or aliases.
func (c *Catalog) Lookup(institution, kind string) (Variant, error) {
	inst, err := c.ParseInstitution(institution)
	if err != nil {
		return Variant{}, err
	}
	k, err := c.ParseKind(kind)
	if err != nil {
		return Variant{}, err
	}
	v, ok := c.variants[variantKey{inst, k}]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s/%s", ErrUnknownVariant, inst, k)
	}
	return v, nil
}

// Variants lists all variants ordered by institution then kind.
func (c *Catalog) Variants() []Variant {
	out := make([]Variant, 0, len(c.variants))
	for _, v := range c.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Institution != out[j].Institution {
			return out[i].Institution < out[j].Institution
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
