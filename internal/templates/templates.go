// Package templates loads checklist templates for inspection forms.
//
// A template defines the checklist rows of one inspection type: item
// numbers (stable within the template) and their descriptions. Templates
// live as YAML files in a directory and can be live-reloaded while the
// daemon runs (see Watcher).
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Item is one checklist row definition.
type Item struct {
	Number      int    `yaml:"number"`
	Description string `yaml:"description"`
}

// Template is one checklist template.
type Template struct {
	// Name identifies the template (e.g. "hgv-daily", "plant-weekly").
	Name string `yaml:"name"`

	// Days is how many days one inspection of this template spans.
	Days int `yaml:"days"`

	Items []Item `yaml:"items"`
}

// Validate checks the template definition.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("template %s has no items", t.Name)
	}

	seen := make(map[int]bool)
	for _, it := range t.Items {
		if it.Number <= 0 {
			return fmt.Errorf("template %s: item number must be positive (got %d)", t.Name, it.Number)
		}
		if strings.TrimSpace(it.Description) == "" {
			return fmt.Errorf("template %s: item %d has no description", t.Name, it.Number)
		}
		if seen[it.Number] {
			return fmt.Errorf("template %s: duplicate item number %d", t.Name, it.Number)
		}
		seen[it.Number] = true
	}
	return nil
}

// Registry holds the loaded templates. Safe for concurrent use; Reload
// swaps the whole set atomically.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]*Template
}

// NewRegistry creates an empty registry over a template directory.
// Call Reload to populate it.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:       dir,
		templates: make(map[string]*Template),
	}
}

// Reload re-reads every *.yaml/*.yml file in the registry's directory.
// Invalid files are skipped with an error entry in the returned slice so
// one broken template doesn't take down the rest.
func (r *Registry) Reload() ([]error, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read templates directory: %w", err)
	}

	loaded := make(map[string]*Template)
	var fileErrs []error

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		tpl, err := readTemplate(path)
		if err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("%s: %w", entry.Name(), err))
			continue
		}
		loaded[tpl.Name] = tpl
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()

	return fileErrs, nil
}

// readTemplate reads and validates one template YAML file.
func readTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to parse template file: %w", err)
	}
	if tpl.Days <= 0 {
		tpl.Days = 1
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	return &tpl, nil
}

// Get returns the template with the given name, or nil if unknown.
func (r *Registry) Get(name string) *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[name]
}

// Names returns the loaded template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ItemDescription looks up the description of an item number within a
// template. ok is false when the template or item is unknown.
func (r *Registry) ItemDescription(templateName string, number int) (string, bool) {
	tpl := r.Get(templateName)
	if tpl == nil {
		return "", false
	}
	for _, it := range tpl.Items {
		if it.Number == number {
			return it.Description, true
		}
	}
	return "", false
}
