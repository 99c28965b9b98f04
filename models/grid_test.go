package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGrids() []Grid {
	return []Grid{
		{
			ID:            "g1",
			GridText:      "YouTube Homepage Videos",
			TotalChildren: 2,
			Children: []Child{
				{ID: "g1c0", Text: "PUTIN'S NUKE BOMBER TO COUNTER US IN CARIBBEAN?"},
				{ID: "g1c1", Text: "Master Carousels in Framer"},
			},
		},
		{
			ID:       "g2",
			Children: []Child{{ID: "g2c3", Text: "Shorts"}},
		},
	}
}

func TestNewGridStructure(t *testing.T) {
	tests := []struct {
		name    string
		grids   []Grid
		wantErr bool
	}{
		{
			name:  "valid structure",
			grids: sampleGrids(),
		},
		{
			name: "duplicate grid id",
			grids: []Grid{
				{ID: "g1", Children: []Child{{ID: "g1c0"}}},
				{ID: "g1", Children: []Child{{ID: "g1c1"}}},
			},
			wantErr: true,
		},
		{
			name:    "child from another grid",
			grids:   []Grid{{ID: "g1", Children: []Child{{ID: "g2c0"}}}},
			wantErr: true,
		},
		{
			name:    "child with non numeric index",
			grids:   []Grid{{ID: "g1", Children: []Child{{ID: "g1cx"}}}},
			wantErr: true,
		},
		{
			name:    "prefix collision g1 vs g10",
			grids:   []Grid{{ID: "g1", Children: []Child{{ID: "g10c0"}}}},
			wantErr: true,
		},
		{
			name:    "duplicate child id",
			grids:   []Grid{{ID: "g1", Children: []Child{{ID: "g1c0"}, {ID: "g1c0"}}}},
			wantErr: true,
		},
		{
			name:    "empty grid id",
			grids:   []Grid{{ID: ""}},
			wantErr: true,
		},
		{
			name:  "empty structure",
			grids: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gs, err := NewGridStructure("", tt.grids)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGridStructure)
				assert.Nil(t, gs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.grids), gs.TotalGrids)
		})
	}
}

func TestGridStructure_Lookups(t *testing.T) {
	gs, err := NewGridStructure("", sampleGrids())
	require.NoError(t, err)

	gridID, ok := gs.GridOf("g2c3")
	assert.True(t, ok)
	assert.Equal(t, "g2", gridID)

	_, ok = gs.GridOf("g9c9")
	assert.False(t, ok)

	assert.Equal(t, []string{"g1", "g2"}, gs.GridIDs())
	assert.Equal(t, []string{"g1c0", "g1c1", "g2c3"}, gs.ChildIDs())
	// declared count for g1, actual count for g2
	assert.Equal(t, 3, gs.TotalChildren())
}

func TestChild_PreservesAuxiliaryFields(t *testing.T) {
	input := `{"id":"g1c0","text":"hello","href":"/watch?v=1","rank":3}`

	var c Child
	require.NoError(t, json.Unmarshal([]byte(input), &c))
	assert.Equal(t, "g1c0", c.ID)
	assert.Equal(t, "hello", c.Text)
	require.Contains(t, c.Extra, "href")

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestSignature_Similarity(t *testing.T) {
	a := Signature{GridCount: 2, ChildCount: 10, MeanTextLen: 40}

	assert.InDelta(t, 1.0, a.Similarity(a), 1e-9)
	assert.InDelta(t, 1.0, Signature{}.Similarity(Signature{}), 1e-9)

	b := Signature{GridCount: 2, ChildCount: 9, MeanTextLen: 36}
	assert.GreaterOrEqual(t, a.Similarity(b), 0.8)

	c := Signature{GridCount: 8, ChildCount: 80, MeanTextLen: 5}
	assert.Less(t, a.Similarity(c), 0.8)
	assert.InDelta(t, a.Similarity(c), c.Similarity(a), 1e-9)
}

func TestNewFilterRequest(t *testing.T) {
	gs := &GridStructure{Grids: sampleGrids()}
	whitelist := []string{" framer ", ""}
	blacklist := []string{"russia"}

	req, err := NewFilterRequest(gs, " https://WWW.YouTube.com/#top ", whitelist, blacklist, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, []string{"framer"}, req.Whitelist)
	assert.Equal(t, "https://www.youtube.com/", req.NormalizedURL())
	assert.Len(t, req.ValidIDs(), 3)

	// caller mutations must not leak into the request
	blacklist[0] = "changed"
	gs.Grids[0].Children[0].Text = "changed"
	assert.Equal(t, "russia", req.Blacklist[0])
	assert.NotEqual(t, "changed", req.Grid.Grids[0].Children[0].Text)
}

func TestNewFilterRequest_RejectsInvalidGrid(t *testing.T) {
	_, err := NewFilterRequest(nil, "https://x.com", nil, nil, "ip")
	assert.ErrorIs(t, err, ErrInvalidGridStructure)

	bad := &GridStructure{Grids: []Grid{{ID: "g1", Children: []Child{{ID: "g2c0"}}}}}
	_, err = NewFilterRequest(bad, "https://x.com", nil, nil, "ip")
	assert.ErrorIs(t, err, ErrInvalidGridStructure)
}
