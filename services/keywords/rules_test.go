package keywords

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

func newRequest(t *testing.T, whitelist, blacklist []string, grids ...models.Grid) *models.FilterRequest {
	t.Helper()
	gs, err := models.NewGridStructure("2025-01-15T16:00:00Z", grids)
	require.NoError(t, err)
	req, err := models.NewFilterRequest(gs, "https://www.youtube.com/", whitelist, blacklist, "203.0.113.7")
	require.NoError(t, err)
	return req
}

func grid(id string, texts ...string) models.Grid {
	g := models.Grid{ID: id}
	for i, text := range texts {
		g.Children = append(g.Children, models.Child{ID: id + "c" + strconv.Itoa(i), Text: text})
	}
	return g
}

func TestRules_Filter_RelatedTermScenario(t *testing.T) {
	req := newRequest(t, nil, []string{"russia"},
		grid("g1", "PUTIN'S NUKE BOMBER...", "Master Carousels in Framer"),
	)

	decision := NewRules(DefaultRelatedTerms()).Filter(req)

	data, err := json.Marshal(decision)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"g1":["g1c0"]}]`, string(data))
}

func TestRules_Filter(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []string
		blacklist []string
		grids     []models.Grid
		expected  []string
	}{
		{
			name:      "case-insensitive substring",
			blacklist: []string{"Crypto"},
			grids:     []models.Grid{grid("g1", "Top CRYPTOCURRENCY picks", "Learn Go")},
			expected:  []string{"g1c0"},
		},
		{
			name:      "whitelist wins over blacklist",
			whitelist: []string{"tutorial"},
			blacklist: []string{"crypto"},
			grids:     []models.Grid{grid("g1", "Crypto tutorial for beginners", "Crypto pump")},
			expected:  []string{"g1c1"},
		},
		{
			name:      "grouped by grid in child order",
			blacklist: []string{"drama"},
			grids: []models.Grid{
				grid("g1", "calm", "drama one", "drama two"),
				grid("g2", "more drama"),
			},
			expected: []string{"g1c1", "g1c2", "g2c0"},
		},
		{
			name:     "empty blacklist hides nothing",
			grids:    []models.Grid{grid("g1", "anything")},
			expected: []string{},
		},
		{
			name:      "empty text is never hidden",
			blacklist: []string{"x"},
			grids:     []models.Grid{grid("g1", "")},
			expected:  []string{},
		},
	}

	rules := NewRules(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, tt.whitelist, tt.blacklist, tt.grids...)
			assert.Equal(t, tt.expected, rules.Filter(req).ChildIDs())
		})
	}
}

func TestRules_WhitelistPrecedenceWithExpansion(t *testing.T) {
	req := newRequest(t, []string{"history"}, []string{"russia"},
		grid("g1", "Kremlin history documentary", "Kremlin news today"),
	)

	decision := NewRules(DefaultRelatedTerms()).Filter(req)
	assert.Equal(t, []string{"g1c1"}, decision.ChildIDs())
}

func TestRules_Expand(t *testing.T) {
	rules := NewRules(map[string][]string{
		" Russia ": {"Putin", " ", "kremlin"},
		"":         {"ignored"},
	})

	assert.Equal(t, []string{"kremlin", "putin", "russia"}, rules.Expand([]string{"RUSSIA"}))
	assert.Equal(t, []string{"other"}, rules.Expand([]string{"other", "  "}))
	assert.Empty(t, rules.Expand(nil))
}

func TestRules_Hides(t *testing.T) {
	rules := NewRules(nil)

	assert.True(t, rules.Hides("Breaking NEWS", nil, []string{"news"}))
	assert.False(t, rules.Hides("Breaking NEWS", []string{"breaking"}, []string{"news"}))
	assert.False(t, rules.Hides("weather", nil, []string{"news"}))
}

func TestRules_Filter_ShortRelatedTermsMatchWholeWords(t *testing.T) {
	rules := NewRules(DefaultRelatedTerms())

	tests := []struct {
		name      string
		blacklist []string
		texts     []string
		expected  string
	}{
		{
			name:      "abbreviation inside a word is kept",
			blacklist: []string{"israel"},
			texts:     []string{"Best midfield drills", "IDF statement on Gaza"},
			expected:  `[{"g1":["g1c1"]}]`,
		},
		{
			name:      "abbreviation next to punctuation is hidden",
			blacklist: []string{"crypto"},
			texts:     []string{"Top NFT drops (2025)", "Ketchup recipes", "BTC/USD breaks out"},
			expected:  `[{"g1":["g1c0","g1c2"]}]`,
		},
		{
			name:      "short term in a longer word",
			blacklist: []string{"trump"},
			texts:     []string{"Vintage magazine covers", "MAGA rally recap"},
			expected:  `[{"g1":["g1c1"]}]`,
		},
		{
			name:      "listed short term stays a substring match",
			blacklist: []string{"idf"},
			texts:     []string{"Best midfield drills"},
			expected:  `[{"g1":["g1c0"]}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, nil, tt.blacklist, grid("g1", tt.texts...))

			data, err := json.Marshal(rules.Filter(req))
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("idf", "idf"))
	assert.True(t, containsWord("the idf's reply", "idf"))
	assert.True(t, containsWord("midfield idf", "idf"))
	assert.False(t, containsWord("midfield", "idf"))
	assert.False(t, containsWord("idf2", "idf"))
	assert.False(t, containsWord("", "idf"))
}
