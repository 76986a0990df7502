// Package puzzle ships the curated puzzle set and the engine-assisted play
// loop: the solver moves, the oracle answers for the defending side.
package puzzle

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/veddev/chessmate-live/internal/board"
)

//go:embed puzzles.yaml
var defaultFiles embed.FS

// Puzzle is one catalog entry. The solver plays the side to move in FEN.
type Puzzle struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	FEN         string `yaml:"fen"`
	Depth       int    `yaml:"depth"`
	Description string `yaml:"description"`
}

// Catalog loads the embedded puzzle definitions once and serves them by id.
type Catalog struct {
	mu   sync.RWMutex
	byID map[string]Puzzle
}

// NewCatalog parses and validates the embedded set. Every FEN must be
// accepted by the rules engine.
func NewCatalog() (*Catalog, error) {
	raw, err := fs.ReadFile(defaultFiles, "puzzles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded puzzles: %w", err)
	}
	var doc struct {
		Puzzles []Puzzle `yaml:"puzzles"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse puzzles: %w", err)
	}

	c := &Catalog{byID: make(map[string]Puzzle, len(doc.Puzzles))}
	for _, p := range doc.Puzzles {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("puzzle with empty id")
		}
		if p.Depth <= 0 {
			p.Depth = 10
		}
		if _, err := board.FromFEN(p.FEN); err != nil {
			return nil, fmt.Errorf("puzzle %s: %w", p.ID, err)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate puzzle id %s", p.ID)
		}
		c.byID[p.ID] = p
	}
	return c, nil
}

// Get returns the puzzle by id.
func (c *Catalog) Get(id string) (Puzzle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// List returns all puzzles ordered by id.
func (c *Catalog) List() []Puzzle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Puzzle, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
