package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultSetKey is the set used when none is requested.
const DefaultSetKey = "simpleExample"

//go:embed default.yaml
var defaultSets []byte

var ErrUnknownSet = errors.New("unknown agent set")

// Tool is a function tool exposed to the speech model.
type Tool struct {
	Type        string         `yaml:"type" json:"type"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
}

type Agent struct {
	Name              string `yaml:"name" json:"name"`
	PublicDescription string `yaml:"publicDescription" json:"publicDescription"`
	Instructions      string `yaml:"instructions" json:"instructions"`
	Voice             string `yaml:"voice,omitempty" json:"voice,omitempty"`
	Tools             []Tool `yaml:"tools" json:"tools"`
}

// Sets maps a set key to its agents. The first agent of a set is the one a
// session starts with.
type Sets map[string][]Agent

// Default returns the sets compiled into the binary.
func Default() (Sets, error) {
	return Parse(defaultSets)
}

// Load reads sets from a YAML file, or the embedded defaults when path is empty.
func Load(path string) (Sets, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Sets, error) {
	var sets Sets
	if err := yaml.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("parse agents: %w", err)
	}
	if len(sets) == 0 {
		return nil, errors.New("parse agents: no agent sets defined")
	}
	for key, list := range sets {
		if len(list) == 0 {
			return nil, fmt.Errorf("agent set %q is empty", key)
		}
		for i := range list {
			if list[i].Name == "" {
				return nil, fmt.Errorf("agent set %q: agent %d has no name", key, i)
			}
			for j := range list[i].Tools {
				if list[i].Tools[j].Type == "" {
					list[i].Tools[j].Type = "function"
				}
			}
			if list[i].Tools == nil {
				list[i].Tools = []Tool{}
			}
		}
	}
	return sets, nil
}

// Keys returns set keys in sorted order.
func (s Sets) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Primary returns the first agent of the named set. An empty key selects
// DefaultSetKey.
func (s Sets) Primary(key string) (Agent, error) {
	if key == "" {
		key = DefaultSetKey
	}
	list, ok := s[key]
	if !ok || len(list) == 0 {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownSet, key)
	}
	return list[0], nil
}
