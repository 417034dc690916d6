package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/lc/confcheck/internal/document"
	"github.com/lc/confcheck/internal/filesys"
)

//go:embed default.yaml
var defaultCatalog []byte

// catalogFile mirrors the YAML layout of a catalog.
type catalogFile struct {
	Groups []groupSpec `yaml:"groups"`
}

type groupSpec struct {
	Name  string     `yaml:"name"`
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Label  string    `yaml:"label"`
	Path   yaml.Node `yaml:"path"`
	Check  string    `yaml:"check"`
	Values []any     `yaml:"values"`
}

// Default returns the built-in Chef Server running-config catalog.
func Default() []Rule {
	rs, err := Decode(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("rules: embedded catalog: %v", err))
	}
	return rs
}

// LoadFile reads a catalog from path.
func LoadFile(fsys filesys.ReadFS, path string) ([]Rule, error) {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalidCatalog, path)
		}
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	rs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Decode parses a YAML catalog. Rules come back flattened, in the order
// their groups and entries are declared.
func Decode(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cf catalogFile
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var out []Rule
	for gi, g := range cf.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("%w: group %d has no name", ErrInvalidCatalog, gi)
		}
		for _, spec := range g.Rules {
			r, err := spec.toRule(g.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: group %q: %v", ErrInvalidCatalog, g.Name, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s ruleSpec) toRule(group string) (Rule, error) {
	p, err := decodePath(&s.Path)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", s.Label, err)
	}
	r := Rule{
		Group:     group,
		Label:     s.Label,
		Path:      p,
		Predicate: Predicate{Kind: Kind(s.Check)},
	}
	for _, raw := range s.Values {
		v, err := document.FromAny(raw)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", s.Label, err)
		}
		r.Predicate.Values = append(r.Predicate.Values, v)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// decodePath accepts either a dotted scalar or a sequence of segments.
func decodePath(n *yaml.Node) (document.Path, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return document.ParsePath(n.Value)
	case yaml.SequenceNode:
		var segs []string
		if err := n.Decode(&segs); err != nil {
			return nil, err
		}
		return document.Path(segs), nil
	case 0:
		return nil, errors.New("path is required")
	default:
		return nil, fmt.Errorf("path must be a string or a list, line %d", n.Line)
	}
}
