package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when no template with the requested id exists.
var ErrNotFound = errors.New("template not found")

// Metadata describes one nuclei template on disk.
type Metadata struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path"`
}

// Store manages a directory of nuclei YAML templates. Lookups go through an
// in-memory metadata cache that is invalidated by filesystem events, so a
// template edited or dropped into the directory by hand is picked up without
// a restart.
type Store struct {
	dir     string
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	cache []Metadata // nil means stale
}

// NewStore opens (creating if necessary) the template directory and starts
// watching it for changes.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}

	s := &Store{dir: dir}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching template directory: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.invalidate()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return s, nil
}

// Close stops the directory watcher.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Dir returns the template directory root.
func (s *Store) Dir() string {
	return s.dir
}

// List returns metadata for every parseable template, sorted by id. Files
// that are not valid templates are skipped.
func (s *Store) List() ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Resolve maps a template id to its filesystem path. The conventional
// location <dir>/<id>.yaml is tried first, but only counts when the file's
// declared id matches; otherwise every template's declared id is consulted,
// so imported or renamed files keep working whatever their filename.
func (s *Store) Resolve(templateID string) (string, error) {
	candidate := filepath.Join(s.dir, templateID+".yaml")
	if data, err := os.ReadFile(candidate); err == nil {
		if meta, err := parseMetadata(data, candidate); err == nil && meta.ID == templateID {
			return candidate, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.listLocked()
	if err != nil {
		return "", err
	}
	for _, meta := range all {
		if meta.ID == templateID {
			return meta.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, templateID)
}

// Load returns the raw YAML content of a template.
func (s *Store) Load(templateID string) (string, error) {
	path, err := s.Resolve(templateID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading template %s: %w", templateID, err)
	}
	return string(data), nil
}

// Save writes template content under <dir>/<id>.yaml. The content's declared
// id must match templateID.
func (s *Store) Save(templateID, content string) (string, error) {
	meta, err := parseMetadata([]byte(content), "")
	if err != nil {
		return "", err
	}
	if meta.ID != templateID {
		return "", fmt.Errorf("template id mismatch: content declares %q, expected %q", meta.ID, templateID)
	}

	path := filepath.Join(s.dir, templateID+".yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("writing template %s: %w", templateID, err)
	}
	s.invalidate()
	return path, nil
}

// Delete removes a template from the store.
func (s *Store) Delete(templateID string) error {
	path, err := s.Resolve(templateID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting template %s: %w", templateID, err)
	}
	s.invalidate()
	return nil
}

// Import copies every valid template found under src into the store,
// deduplicating by declared template id: a template whose id already exists
// is skipped, not overwritten. Returns the paths of the imported copies.
func (s *Store) Import(src string) ([]string, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("template source %s: %w", src, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, meta := range existing {
		known[meta.ID] = true
	}

	var imported []string
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable file, skip
		}
		meta, err := parseMetadata(data, path)
		if err != nil || known[meta.ID] {
			return nil
		}

		dst := filepath.Join(s.dir, meta.ID+".yaml")
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		known[meta.ID] = true
		imported = append(imported, dst)
		return nil
	})
	if err != nil {
		return imported, err
	}

	s.cache = nil
	return imported, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *Store) listLocked() ([]Metadata, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	var all []Metadata
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		meta, err := parseMetadata(data, path)
		if err != nil {
			return nil
		}
		all = append(all, meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	s.cache = all
	return all, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// templateDoc mirrors the subset of a nuclei template needed for metadata.
type templateDoc struct {
	ID   string `yaml:"id"`
	Info struct {
		Name        string  `yaml:"name"`
		Severity    string  `yaml:"severity"`
		Description string  `yaml:"description"`
		Tags        tagList `yaml:"tags"`
	} `yaml:"info"`
}

// tagList accepts both the comma-separated string form and the list form
// that nuclei templates use for tags.
type tagList []string

func (t *tagList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*t = append(*t, part)
			}
		}
		return nil
	case yaml.SequenceNode:
		var raw []string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*t = raw
		return nil
	default:
		return fmt.Errorf("unexpected YAML node for tags")
	}
}

func parseMetadata(data []byte, path string) (Metadata, error) {
	var doc templateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("parsing template: %w", err)
	}
	if doc.ID == "" {
		return Metadata{}, errors.New("template must include an id field")
	}

	name := doc.Info.Name
	if name == "" {
		name = doc.ID
	}
	severity := doc.Info.Severity
	if severity == "" {
		severity = "info"
	}

	return Metadata{
		ID:          doc.ID,
		Name:        name,
		Severity:    severity,
		Tags:        doc.Info.Tags,
		Description: doc.Info.Description,
		Path:        path,
	}, nil
}
