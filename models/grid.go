package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidGridStructure is returned when a grid snapshot violates its
// identity invariants (duplicate grid ids, foreign or malformed child ids).
var ErrInvalidGridStructure = errors.New("invalid grid structure")

// Child is one candidate content item inside a grid.
// Fields other than id and text are kept verbatim in Extra so they can be echoed back.
type Child struct {
	ID    string                     `json:"id"`
	Text  string                     `json:"text"`
	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a child while preserving auxiliary fields
func (c *Child) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &c.ID); err != nil {
			return fmt.Errorf("child id: %w", err)
		}
		delete(raw, "id")
	}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &c.Text); err != nil {
			return fmt.Errorf("child text: %w", err)
		}
		delete(raw, "text")
	}

	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// MarshalJSON encodes a child including its auxiliary fields
func (c Child) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}

	id, err := json.Marshal(c.ID)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(c.Text)
	if err != nil {
		return nil, err
	}
	out["id"] = id
	out["text"] = text

	return json.Marshal(out)
}

// Grid is a named collection of children from one UI region
type Grid struct {
	ID            string  `json:"id"`
	GridText      string  `json:"gridText,omitempty"`
	TotalChildren int     `json:"totalChildren"`
	Children      []Child `json:"children"`
}

// ChildCount returns the declared child count, falling back to the number of
// children actually present when the client did not declare one.
func (g Grid) ChildCount() int {
	if g.TotalChildren > 0 {
		return g.TotalChildren
	}
	return len(g.Children)
}

// GridStructure is a snapshot of a page's UI layout
type GridStructure struct {
	Timestamp  string `json:"timestamp,omitempty"`
	TotalGrids int    `json:"totalGrids"`
	Grids      []Grid `json:"grids"`

	childIndex map[string]string
}

// NewGridStructure builds a validated grid structure.
func NewGridStructure(timestamp string, grids []Grid) (*GridStructure, error) {
	gs := &GridStructure{
		Timestamp:  timestamp,
		TotalGrids: len(grids),
		Grids:      grids,
	}
	if err := gs.Validate(); err != nil {
		return nil, err
	}
	return gs, nil
}

// Validate enforces grid id uniqueness and child membership, and indexes
// every child id to its owning grid.
func (gs *GridStructure) Validate() error {
	seenGrids := make(map[string]struct{}, len(gs.Grids))
	index := make(map[string]string)

	for _, g := range gs.Grids {
		if g.ID == "" {
			return fmt.Errorf("%w: grid with empty id", ErrInvalidGridStructure)
		}
		if _, dup := seenGrids[g.ID]; dup {
			return fmt.Errorf("%w: duplicate grid id %q", ErrInvalidGridStructure, g.ID)
		}
		seenGrids[g.ID] = struct{}{}

		for _, c := range g.Children {
			if !isChildOf(c.ID, g.ID) {
				return fmt.Errorf("%w: child %q does not belong to grid %q", ErrInvalidGridStructure, c.ID, g.ID)
			}
			if _, dup := index[c.ID]; dup {
				return fmt.Errorf("%w: duplicate child id %q", ErrInvalidGridStructure, c.ID)
			}
			index[c.ID] = g.ID
		}
	}

	gs.childIndex = index
	return nil
}

// isChildOf reports whether id has the form <gridID>c<index>
func isChildOf(id, gridID string) bool {
	rest, ok := strings.CutPrefix(id, gridID+"c")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseUint(rest, 10, 32)
	return err == nil
}

// index returns the child to grid lookup. Structures that skipped Validate
// get a fresh map each call so shared values are never written to.
func (gs *GridStructure) index() map[string]string {
	if gs.childIndex != nil {
		return gs.childIndex
	}
	idx := make(map[string]string)
	for _, g := range gs.Grids {
		for _, c := range g.Children {
			idx[c.ID] = g.ID
		}
	}
	return idx
}

// GridOf returns the grid that owns childID
func (gs *GridStructure) GridOf(childID string) (string, bool) {
	gridID, ok := gs.index()[childID]
	return gridID, ok
}

// HasChild reports whether childID exists in the structure
func (gs *GridStructure) HasChild(childID string) bool {
	_, ok := gs.index()[childID]
	return ok
}

// GridIDs returns grid ids in request order
func (gs *GridStructure) GridIDs() []string {
	ids := make([]string, 0, len(gs.Grids))
	for _, g := range gs.Grids {
		ids = append(ids, g.ID)
	}
	return ids
}

// ChildIDs returns every child id in document order
func (gs *GridStructure) ChildIDs() []string {
	ids := make([]string, 0, len(gs.index()))
	for _, g := range gs.Grids {
		for _, c := range g.Children {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// TotalChildren sums the child counts of all grids
func (gs *GridStructure) TotalChildren() int {
	total := 0
	for _, g := range gs.Grids {
		total += g.ChildCount()
	}
	return total
}

// Signature is a coarse structural summary used for similarity matching
type Signature struct {
	GridCount   int
	ChildCount  int
	MeanTextLen float64
}

// Signature computes the structural signature of the snapshot
func (gs *GridStructure) Signature() Signature {
	sig := Signature{GridCount: len(gs.Grids)}
	textLen := 0
	for _, g := range gs.Grids {
		for _, c := range g.Children {
			sig.ChildCount++
			textLen += len([]rune(c.Text))
		}
	}
	if sig.ChildCount > 0 {
		sig.MeanTextLen = float64(textLen) / float64(sig.ChildCount)
	}
	return sig
}

// Similarity returns a score in [0, 1]; 1 means identical signatures.
// Each dimension contributes min/max, and the score is their mean.
func (s Signature) Similarity(other Signature) float64 {
	ratio := func(a, b float64) float64 {
		if a == 0 && b == 0 {
			return 1
		}
		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		if hi == 0 {
			return 0
		}
		return lo / hi
	}

	return (ratio(float64(s.GridCount), float64(other.GridCount)) +
		ratio(float64(s.ChildCount), float64(other.ChildCount)) +
		ratio(s.MeanTextLen, other.MeanTextLen)) / 3
}
