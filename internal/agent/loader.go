package agent

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a single agent definition from a YAML file.
func LoadFile(path string) (*Agent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: open %s: %w", path, err)
	}
	defer f.Close()

	a, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("agent: load %s: %w", path, err)
	}
	return a, nil
}

// LoadFromReader decodes and validates one agent definition. Unknown YAML
// keys are rejected so typos surface at startup instead of silently falling
// back to defaults.
func LoadFromReader(r io.Reader) (*Agent, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var a Agent
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	a.Normalize()
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &a, nil
}

// LoadDir reads every .yaml/.yml file in dir as one agent definition each,
// sorted by filename for deterministic ordering. It enforces unique agent
// names and at most one active agent across the directory.
func LoadDir(dir string) ([]*Agent, error) {
	paths, err := definitionPaths(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: read dir %s: %w", dir, err)
	}

	var (
		agents []*Agent
		errs   []error
		seen   = map[string]string{}
		active string
	)
	for _, p := range paths {
		a, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[a.Name]; dup {
			errs = append(errs, fmt.Errorf("agent: duplicate name %q in %s (first defined in %s)", a.Name, p, prev))
			continue
		}
		seen[a.Name] = p
		if a.Active {
			if active != "" {
				errs = append(errs, fmt.Errorf("agent: %s marks %q active but %s already has the active agent", p, a.Name, active))
				continue
			}
			active = p
		}
		agents = append(agents, a)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return agents, nil
}

// definitionPaths lists the .yaml/.yml files in dir, sorted by name.
func definitionPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// statDir reports whether dir exists and is a directory. Used by callers that
// treat a missing agents directory as "no seed data" rather than an error.
func statDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// LoadDirIfPresent is like [LoadDir] but returns an empty slice when dir does
// not exist.
func LoadDirIfPresent(dir string) ([]*Agent, error) {
	ok, err := statDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agent: stat %s: %w", dir, err)
	}
	if !ok {
		return nil, nil
	}
	return LoadDir(dir)
}
