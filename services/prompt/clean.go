package prompt

import (
	"bytes"
	"encoding/json"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

const (
	maxGridTextLen     = 500
	maxChildTextLen    = 50
	maxChildrenPerGrid = 10
	truncationEllipsis = "..."
)

// CleanedChild is the model-facing view of a child
type CleanedChild struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CleanedGrid is the model-facing view of a grid
type CleanedGrid struct {
	ID            string         `json:"id"`
	TotalChildren int            `json:"totalChildren"`
	GridText      string         `json:"gridText,omitempty"`
	Children      []CleanedChild `json:"children"`
}

// CleanedStructure is the payload sent to the model
type CleanedStructure struct {
	TotalGrids int           `json:"totalGrids"`
	Grids      []CleanedGrid `json:"grids"`
}

// CleanGrid keeps the first children of every grid, redacts contact data and
// truncates long text
func CleanGrid(gs *models.GridStructure) CleanedStructure {
	cleaned := CleanedStructure{
		TotalGrids: gs.TotalGrids,
		Grids:      make([]CleanedGrid, 0, len(gs.Grids)),
	}

	for _, g := range gs.Grids {
		cg := CleanedGrid{
			ID:            g.ID,
			TotalChildren: g.TotalChildren,
			GridText:      truncate(RedactContactData(g.GridText), maxGridTextLen),
			Children:      []CleanedChild{},
		}

		children := g.Children
		if len(children) > maxChildrenPerGrid {
			children = children[:maxChildrenPerGrid]
		}
		for _, c := range children {
			cg.Children = append(cg.Children, CleanedChild{
				ID:   c.ID,
				Text: truncate(RedactContactData(c.Text), maxChildTextLen),
			})
		}
		cleaned.Grids = append(cleaned.Grids, cg)
	}
	return cleaned
}

// ValidIDs lists the child ids the model is shown, in order
func (c CleanedStructure) ValidIDs() []string {
	var ids []string
	for _, g := range c.Grids {
		for _, child := range g.Children {
			if child.ID != "" {
				ids = append(ids, child.ID)
			}
		}
	}
	return ids
}

// Encode renders the structure as indented JSON without HTML escaping
func (c CleanedStructure) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + truncationEllipsis
}
