package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// GridDecision lists the hidden children of one grid in order
type GridDecision struct {
	GridID   string
	ChildIDs []string
}

// Decision maps grid ids to the ordered child ids to hide.
// The zero value is an empty decision.
type Decision struct {
	Groups []GridDecision
}

// NewDecision groups child ids by their owning grid. Groups appear in the
// order their first child appears; ids not present in grid are dropped.
func NewDecision(grid *GridStructure, childIDs []string) Decision {
	var d Decision
	for _, id := range childIDs {
		gridID, ok := grid.GridOf(id)
		if !ok {
			continue
		}
		d.add(gridID, id)
	}
	return d
}

func (d *Decision) add(gridID, childID string) {
	for i := range d.Groups {
		if d.Groups[i].GridID != gridID {
			continue
		}
		for _, existing := range d.Groups[i].ChildIDs {
			if existing == childID {
				return
			}
		}
		d.Groups[i].ChildIDs = append(d.Groups[i].ChildIDs, childID)
		return
	}
	d.Groups = append(d.Groups, GridDecision{GridID: gridID, ChildIDs: []string{childID}})
}

// IsEmpty reports whether nothing is hidden
func (d Decision) IsEmpty() bool {
	return d.HiddenCount() == 0
}

// HiddenCount returns the number of hidden children
func (d Decision) HiddenCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.ChildIDs)
	}
	return n
}

// ChildIDs flattens the decision in group order
func (d Decision) ChildIDs() []string {
	ids := make([]string, 0, d.HiddenCount())
	for _, g := range d.Groups {
		ids = append(ids, g.ChildIDs...)
	}
	return ids
}

// Clone returns a deep copy
func (d Decision) Clone() Decision {
	out := Decision{Groups: make([]GridDecision, 0, len(d.Groups))}
	for _, g := range d.Groups {
		ids := make([]string, len(g.ChildIDs))
		copy(ids, g.ChildIDs)
		out.Groups = append(out.Groups, GridDecision{GridID: g.GridID, ChildIDs: ids})
	}
	return out
}

// Merge appends other's groups into d, combining groups with the same grid id
func (d Decision) Merge(other Decision) Decision {
	out := d.Clone()
	for _, g := range other.Groups {
		for _, id := range g.ChildIDs {
			out.add(g.GridID, id)
		}
	}
	return out
}

// Restrict drops ids that are not children of grid. Used when replaying a
// decision produced for a different request.
func (d Decision) Restrict(grid *GridStructure) Decision {
	var out Decision
	for _, g := range d.Groups {
		for _, id := range g.ChildIDs {
			if owner, ok := grid.GridOf(id); ok && owner == g.GridID {
				out.add(g.GridID, id)
			}
		}
	}
	return out
}

// MarshalJSON writes the wire format: [{"g1":["g1c0","g1c5"]},{"g2":["g2c3"]}]
func (d Decision) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	first := true
	for _, g := range d.Groups {
		if len(g.ChildIDs) == 0 {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(g.GridID)
		if err != nil {
			return nil, err
		}
		ids, err := json.Marshal(g.ChildIDs)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(ids)
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the wire format. Each element must hold exactly one key.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var raw []map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Decision{}
	for i, obj := range raw {
		if len(obj) != 1 {
			return fmt.Errorf("decision element %d: expected one grid key, got %d", i, len(obj))
		}
		for gridID, ids := range obj {
			for _, id := range ids {
				out.add(gridID, id)
			}
		}
	}
	*d = out
	return nil
}
