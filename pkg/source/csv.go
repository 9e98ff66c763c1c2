package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aquaponics/pondwatch/pkg/loader"
	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

// PondFile is one entry of the ponds file.
type PondFile struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// PondsConfig is the ponds file format:
//
//	ponds:
//	  - name: IoTPond1
//	    path: data/IoTPond1.csv
//
// Relative paths are resolved against the directory of the ponds file.
type PondsConfig struct {
	Ponds []PondFile `yaml:"ponds"`
}

// ReadPondsConfig parses the YAML ponds file at path.
func ReadPondsConfig(path string) (PondsConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return PondsConfig{}, fmt.Errorf("failed to read ponds file: %w", err)
	}
	var cfg PondsConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return PondsConfig{}, fmt.Errorf("failed to parse ponds file %s: %w", path, err)
	}
	base := filepath.Dir(path)
	seen := make(map[string]bool, len(cfg.Ponds))
	for i, p := range cfg.Ponds {
		if p.Name == "" || p.Path == "" {
			return PondsConfig{}, fmt.Errorf("ponds file %s: entry %d needs name and path", path, i)
		}
		if seen[p.Name] {
			return PondsConfig{}, fmt.Errorf("ponds file %s: duplicate pond %q", path, p.Name)
		}
		seen[p.Name] = true
		if !filepath.IsAbs(p.Path) {
			cfg.Ponds[i].Path = filepath.Join(base, p.Path)
		}
	}
	return cfg, nil
}

// CSV serves ponds from CSV files, loading a file on every Series call.
// Wrap it in Cached to avoid reloading.
type CSV struct {
	mu    sync.RWMutex
	dir   string // empty when built from a ponds file
	paths map[string]string
	order []string
}

// NewCSVDir serves every *.csv in dir, named by file stem in lexical order.
func NewCSVDir(dir string) (*CSV, error) {
	c := &CSV{dir: dir}
	if err := c.Rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCSVFromConfig serves the ponds listed in cfg in file order.
func NewCSVFromConfig(cfg PondsConfig) *CSV {
	c := &CSV{paths: make(map[string]string, len(cfg.Ponds))}
	for _, p := range cfg.Ponds {
		c.paths[p.Name] = p.Path
		c.order = append(c.order, p.Name)
	}
	return c
}

// Dir returns the scanned directory, or "" for a ponds-file source.
func (c *CSV) Dir() string { return c.dir }

// Rescan re-reads the directory listing. It is a no-op for ponds-file sources.
func (c *CSV) Rescan() error {
	if c.dir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(c.dir, "*.csv"))
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", c.dir, err)
	}
	paths := make(map[string]string, len(files))
	order := make([]string, 0, len(files))
	for _, f := range files {
		name := utils.FileStem(f)
		paths[name] = f
		order = append(order, name)
	}
	slices.Sort(order)

	c.mu.Lock()
	c.paths, c.order = paths, order
	c.mu.Unlock()
	return nil
}

// Path returns the file backing pond.
func (c *CSV) Path(pond string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.paths[pond]
	return p, ok
}

func (c *CSV) Ponds(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order), nil
}

func (c *CSV) Series(_ context.Context, pond string) (sensor.Series, error) {
	path, ok := c.Path(pond)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPond, pond)
	}
	return loader.LoadCSV(path)
}
