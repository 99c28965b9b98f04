package prompt

import (
	"github.com/sanoy-si/doom-blocker-backend/models"
)

// SplitGrid splits the children of gs into chunks of at most chunkSize,
// keeping each child under its own grid. gs is returned unchanged when
// chunking is disabled or not needed.
func SplitGrid(gs *models.GridStructure, chunkSize int) ([]*models.GridStructure, error) {
	if chunkSize <= 0 {
		return []*models.GridStructure{gs}, nil
	}

	type placed struct {
		grid  int
		child models.Child
	}
	var all []placed
	for i, g := range gs.Grids {
		for _, c := range g.Children {
			all = append(all, placed{grid: i, child: c})
		}
	}
	if len(all) <= chunkSize {
		return []*models.GridStructure{gs}, nil
	}

	var chunks []*models.GridStructure
	for start := 0; start < len(all); start += chunkSize {
		end := min(start+chunkSize, len(all))

		var grids []models.Grid
		position := make(map[int]int)
		for _, p := range all[start:end] {
			idx, ok := position[p.grid]
			if !ok {
				src := gs.Grids[p.grid]
				grids = append(grids, models.Grid{ID: src.ID, GridText: src.GridText})
				idx = len(grids) - 1
				position[p.grid] = idx
			}
			grids[idx].Children = append(grids[idx].Children, p.child)
		}
		for i := range grids {
			grids[i].TotalChildren = len(grids[i].Children)
		}

		chunk, err := models.NewGridStructure(gs.Timestamp, grids)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
