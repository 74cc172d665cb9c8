// Package agents defines the catalog of generative agents that can be
// triggered from chat: their identity, availability, cost, keyword tables
// for intent detection, and input parameter schemas.
package agents

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	museerrors "muse/internal/errors"
)

// Type identifies a generative capability.
type Type string

const (
	TypeImageGeneration    Type = "image-generation"
	TypeDocumentGeneration Type = "document-generation"
	TypeAudioGeneration    Type = "audio-generation"
)

// ArtifactKind is the artifact tag produced by this agent type, e.g.
// "image" for image-generation. Metadata schemas are keyed by it.
func (t Type) ArtifactKind() string {
	return strings.TrimSuffix(string(t), "-generation")
}

// Keyword is one weighted entry of an agent's trigger table.
type Keyword struct {
	Word   string  `yaml:"word"`
	Weight float64 `yaml:"weight"`
}

// ParamSpec describes one input parameter of an agent.
type ParamSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"` // string, int, float, bool
	Required bool   `yaml:"required"`
}

// Definition is the full description of one agent type.
type Definition struct {
	Type             Type        `yaml:"type"`
	Title            string      `yaml:"title"`
	Priority         int         `yaml:"priority"` // lower wins confidence ties
	UnitCost         float64     `yaml:"unit_cost"`
	Keywords         []Keyword   `yaml:"keywords"`
	StrongIndicators []string    `yaml:"strong_indicators"`
	Params           []ParamSpec `yaml:"params"`
}

// Catalog holds agent definitions plus their current availability.
type Catalog struct {
	mu        sync.RWMutex
	defs      map[Type]Definition
	ordered   []Type
	available map[Type]bool
}

// NewCatalog builds a catalog from the given definitions, all available.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:      make(map[Type]Definition, len(defs)),
		available: make(map[Type]bool, len(defs)),
	}
	for _, def := range defs {
		if def.Type == "" {
			return nil, fmt.Errorf("agent definition missing type")
		}
		if _, dup := c.defs[def.Type]; dup {
			return nil, fmt.Errorf("duplicate agent type %q", def.Type)
		}
		c.defs[def.Type] = def
		c.ordered = append(c.ordered, def.Type)
		c.available[def.Type] = true
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.defs[c.ordered[i]].Priority < c.defs[c.ordered[j]].Priority
	})
	return c, nil
}

// LoadCatalog reads agent definitions from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	var file struct {
		Agents []Definition `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse agent catalog: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent catalog %s defines no agents", path)
	}
	return NewCatalog(file.Agents)
}

// Lookup returns the definition for a type.
func (c *Catalog) Lookup(t Type) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[t]
	return def, ok
}

// Available reports whether the agent type can currently be executed.
func (c *Catalog) Available(t Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available[t]
}

// SetAvailable flips availability for an agent type.
func (c *Catalog) SetAvailable(t Type, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[t]; ok {
		c.available[t] = available
	}
}

// Definitions returns all definitions in fixed priority order.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.ordered))
	for _, t := range c.ordered {
		out = append(out, c.defs[t])
	}
	return out
}

// ValidateParams checks params against the agent's input schema. Unknown
// parameters are rejected so typos cannot silently change behavior.
func (c *Catalog) ValidateParams(t Type, params map[string]any) error {
	def, ok := c.Lookup(t)
	if !ok {
		return &museerrors.ValidationError{Field: "agentType", Message: fmt.Sprintf("unknown agent type %q", t)}
	}

	known := make(map[string]ParamSpec, len(def.Params))
	for _, spec := range def.Params {
		known[spec.Name] = spec
	}

	for name := range params {
		if _, ok := known[name]; !ok {
			return &museerrors.ValidationError{Field: name, Message: "unknown parameter"}
		}
	}

	for _, spec := range def.Params {
		value, present := params[spec.Name]
		if !present {
			if spec.Required {
				return &museerrors.ValidationError{Field: spec.Name, Message: "required parameter missing"}
			}
			continue
		}
		if !kindMatches(spec.Kind, value) {
			return &museerrors.ValidationError{Field: spec.Name, Message: fmt.Sprintf("expected %s", spec.Kind)}
		}
		if spec.Kind == "string" && spec.Required {
			if s, _ := value.(string); s == "" {
				return &museerrors.ValidationError{Field: spec.Name, Message: "required parameter empty"}
			}
		}
	}
	return nil
}

func kindMatches(kind string, value any) bool {
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "int":
		switch value.(type) {
		case int, int32, int64:
			return true
		case float64:
			// JSON numbers decode as float64.
			f := value.(float64)
			return f == float64(int64(f))
		}
		return false
	case "float":
		switch value.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// DefaultCatalog returns the built-in agent set with bilingual keyword
// tables. Deployments can replace it with a YAML catalog.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]Definition{
		{
			Type:     TypeImageGeneration,
			Title:    "Image generation",
			Priority: 1,
			UnitCost: 0.04,
			Keywords: []Keyword{
				{Word: "bild", Weight: 1},
				{Word: "image", Weight: 1},
				{Word: "foto", Weight: 1},
				{Word: "picture", Weight: 1},
				{Word: "grafik", Weight: 1},
				{Word: "illustration", Weight: 1},
				{Word: "zeichne", Weight: 1},
				{Word: "draw", Weight: 1},
				{Word: "male", Weight: 0.5},
				{Word: "visualisiere", Weight: 1},
			},
			StrongIndicators: []string{
				"erstelle ein bild",
				"generiere ein bild",
				"male ein bild",
				"generate an image",
				"create an image",
				"draw me",
			},
			Params: []ParamSpec{
				{Name: "prompt", Kind: "string", Required: true},
				{Name: "size", Kind: "string"},
				{Name: "style", Kind: "string"},
				{Name: "seed", Kind: "int"},
			},
		},
		{
			Type:     TypeDocumentGeneration,
			Title:    "Document generation",
			Priority: 2,
			UnitCost: 0.02,
			Keywords: []Keyword{
				{Word: "dokument", Weight: 1},
				{Word: "document", Weight: 1},
				{Word: "arbeitsblatt", Weight: 1},
				{Word: "worksheet", Weight: 1},
				{Word: "handout", Weight: 1},
				{Word: "pdf", Weight: 1},
			},
			StrongIndicators: []string{
				"erstelle ein arbeitsblatt",
				"erstelle ein dokument",
				"create a worksheet",
				"create a document",
			},
			Params: []ParamSpec{
				{Name: "prompt", Kind: "string", Required: true},
				{Name: "format", Kind: "string"},
			},
		},
		{
			Type:     TypeAudioGeneration,
			Title:    "Audio generation",
			Priority: 3,
			UnitCost: 0.03,
			Keywords: []Keyword{
				{Word: "audio", Weight: 1},
				{Word: "hörbeispiel", Weight: 1},
				{Word: "vertone", Weight: 1},
				{Word: "sprachaufnahme", Weight: 1},
				{Word: "voiceover", Weight: 1},
			},
			StrongIndicators: []string{
				"erstelle ein audio",
				"generate audio",
			},
			Params: []ParamSpec{
				{Name: "prompt", Kind: "string", Required: true},
				{Name: "voice", Kind: "string"},
			},
		},
	})
	if err != nil {
		panic(err) // built-in definitions are static
	}
	return catalog
}
