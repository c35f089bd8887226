// Package workflow loads YAML workflow definitions and executes their tasks
// one after another.
package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no definition exists for a workflow id.
var ErrNotFound = errors.New("workflow not found")

// Definition models <workflows_dir>/<id>.yaml.
type Definition struct {
	ID          string `yaml:"id"`
	Namespace   string `yaml:"namespace"`
	Description string `yaml:"description"`
	Tasks       []Task `yaml:"tasks"`
}

// Task is one step of a workflow. Which of the optional fields matter depends on Type.
type Task struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	// Mail and model tasks.
	To       Strings `yaml:"to"`
	Commands Strings `yaml:"commands"`

	// HTTP request tasks.
	URI    string         `yaml:"uri"`
	Method string         `yaml:"method"`
	Body   map[string]any `yaml:"body"`

	// Pull request listing tasks.
	URL   string `yaml:"url"`
	State string `yaml:"state"`
}

// Strings decodes from either a YAML sequence or a single scalar.
type Strings []string

func (s *Strings) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if n.Value == "" || n.Tag == "!!null" {
			*s = nil
			return nil
		}
		*s = Strings{n.Value}
		return nil
	}
	var items []string
	if err := n.Decode(&items); err != nil {
		return err
	}
	*s = items
	return nil
}

// FromYAML decodes a definition. Keys the executor does not use (inputs,
// triggers, plugin specific settings) are ignored.
func FromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	return &def, nil
}

// validID rejects ids that would escape the workflows directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

// Path returns the definition file for id.
func Path(dir, id string) string {
	return filepath.Join(dir, id+".yaml")
}

// Load reads the definition for id from dir.
func Load(dir, id string) (*Definition, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(Path(dir, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	def, err := FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	if def.ID == "" {
		def.ID = id
	}
	return def, nil
}

// List returns the ids of every definition in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}
