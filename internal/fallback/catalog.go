// Package fallback holds the always-available default follow-up copy used
// when the template store has nothing for a step.
package fallback

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"followup-templates/internal/models"
	"followup-templates/internal/vertical"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Entry mirrors models.Template minus persistence fields, plus optional
// per-vertical content variants.
type Entry struct {
	Channel  models.Channel               `yaml:"channel,omitempty"`
	Tone     models.Tone                  `yaml:"tone,omitempty"`
	Subject  string                       `yaml:"subject,omitempty"`
	Content  string                       `yaml:"content"`
	Variants map[vertical.Vertical]string `yaml:"variants,omitempty"`
}

// Select returns the variant for v when one exists, otherwise the default
// content attributed to the generic vertical.
func (e Entry) Select(v vertical.Vertical) (string, vertical.Vertical) {
	if !v.IsGeneric() {
		if content, ok := e.Variants[v]; ok && content != "" {
			return content, v
		}
	}
	return e.Content, vertical.Generic
}

// Catalog is an immutable stepKey → Entry table.
type Catalog struct {
	entries map[string]Entry
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("fallback: embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog in the same YAML layout as the embedded one.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	entries := map[string]Entry{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse fallback catalog: %w", err)
	}

	for step, e := range entries {
		if step == "" {
			return nil, fmt.Errorf("fallback catalog: empty step key")
		}
		if _, err := models.ParseChannel(string(e.Channel)); err != nil {
			return nil, fmt.Errorf("fallback catalog: step %s: %w", step, err)
		}
		tone, err := models.ParseTone(string(e.Tone))
		if err != nil {
			return nil, fmt.Errorf("fallback catalog: step %s: %w", step, err)
		}
		e.Tone = tone
		for v := range e.Variants {
			if _, ok := vertical.Parse(string(v)); !ok || v.IsGeneric() {
				return nil, fmt.Errorf("fallback catalog: step %s: unknown variant vertical %q", step, v)
			}
		}
		entries[step] = e
	}

	return &Catalog{entries: entries}, nil
}

func (c *Catalog) Lookup(stepKey string) (Entry, bool) {
	e, ok := c.entries[stepKey]
	return e, ok
}

// StepKeys returns the catalog's step keys in sorted order.
func (c *Catalog) StepKeys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

// MarshalYAML lets the catalog be dumped in its source layout.
func (c *Catalog) MarshalYAML() (interface{}, error) {
	return c.entries, nil
}
