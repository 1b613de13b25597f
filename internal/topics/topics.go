// Package topics maps free-text questions to the profile sections that can
// answer them.
package topics

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var defaultTable []byte

// DefaultCategories are selected when a question matches no keyword.
var DefaultCategories = []string{"experience", "skills"}

// Topic is one row of the keyword table.
type Topic struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Sections []string `yaml:"sections"`
}

type table struct {
	Topics []Topic `yaml:"topics"`
}

// Mapping is an immutable, ordered keyword table. It is safe for concurrent use.
type Mapping struct {
	topics []Topic
	index  map[string]int
}

// Default returns the built-in table. It is parsed once per process.
var Default = sync.OnceValue(func() *Mapping {
	m, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("topics: built-in table is invalid: %v", err))
	}
	return m
})

// Load returns the table at path, or the built-in table when path is empty.
func Load(path string) (*Mapping, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topics file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing topics file %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML keyword table. Keywords are lower-cased so they can be
// matched against a lower-cased question.
func Parse(data []byte) (*Mapping, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if len(t.Topics) == 0 {
		return nil, fmt.Errorf("no topics defined")
	}

	m := &Mapping{index: make(map[string]int, len(t.Topics))}
	for _, tp := range t.Topics {
		if tp.Category == "" {
			return nil, fmt.Errorf("topic with empty category")
		}
		if _, dup := m.index[tp.Category]; dup {
			return nil, fmt.Errorf("duplicate category %q", tp.Category)
		}
		if len(tp.Keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", tp.Category)
		}
		kw := make([]string, 0, len(tp.Keywords))
		for _, k := range tp.Keywords {
			if k = strings.ToLower(k); k != "" {
				kw = append(kw, k)
			}
		}
		for _, s := range tp.Sections {
			if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
				return nil, fmt.Errorf("category %q has malformed section path %q", tp.Category, s)
			}
		}
		m.index[tp.Category] = len(m.topics)
		m.topics = append(m.topics, Topic{
			Category: tp.Category,
			Keywords: kw,
			Sections: append([]string(nil), tp.Sections...),
		})
	}

	for _, c := range DefaultCategories {
		if _, ok := m.index[c]; !ok {
			return nil, fmt.Errorf("default category %q is not defined", c)
		}
	}
	return m, nil
}

// Match returns the categories whose keywords occur in message, in table
// order. When nothing matches it returns DefaultCategories.
func (m *Mapping) Match(message string) []string {
	lower := strings.ToLower(message)

	var matched []string
	for _, tp := range m.topics {
		for _, kw := range tp.Keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, tp.Category)
				break
			}
		}
	}

	if len(matched) == 0 {
		return append([]string(nil), DefaultCategories...)
	}
	return matched
}

// Sections returns the dotted section paths registered for category, or nil
// for an unknown category.
func (m *Mapping) Sections(category string) []string {
	i, ok := m.index[category]
	if !ok {
		return nil
	}
	return m.topics[i].Sections
}

// Categories lists every category in table order.
func (m *Mapping) Categories() []string {
	out := make([]string, len(m.topics))
	for i, tp := range m.topics {
		out[i] = tp.Category
	}
	return out
}

// Topics returns a copy of the table rows.
func (m *Mapping) Topics() []Topic {
	out := make([]Topic, len(m.topics))
	for i, tp := range m.topics {
		out[i] = Topic{
			Category: tp.Category,
			Keywords: append([]string(nil), tp.Keywords...),
			Sections: append([]string(nil), tp.Sections...),
		}
	}
	return out
}
