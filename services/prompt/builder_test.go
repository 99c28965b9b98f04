package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

func newRequest(t *testing.T, rawURL string, whitelist, blacklist []string, grids ...models.Grid) *models.FilterRequest {
	t.Helper()
	gs, err := models.NewGridStructure("2025-01-15T16:00:00Z", grids)
	require.NoError(t, err)
	req, err := models.NewFilterRequest(gs, rawURL, whitelist, blacklist, "203.0.113.7")
	require.NoError(t, err)
	return req
}

func gridOf(id string, n int, text func(i int) string) models.Grid {
	g := models.Grid{ID: id, TotalChildren: n}
	for i := 0; i < n; i++ {
		g.Children = append(g.Children, models.Child{ID: fmt.Sprintf("%sc%d", id, i), Text: text(i)})
	}
	return g
}

func TestService_Build(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
prompts:
  - pattern: 'https?://(www\.)?youtube\.com'
    prompt: "YT\n<BLACKLIST>\n<WHITELIST>"
  - pattern: 'https?://(www\.)?reddit\.com'
    prompt: "REDDIT <BLACKLIST>"
`))
	require.NoError(t, err)
	svc := NewService(catalog, zap.NewNop())

	req := newRequest(t, "https://www.youtube.com/", []string{"golang"}, []string{"russia", "crypto"},
		gridOf("g1", 2, func(i int) string { return fmt.Sprintf("video %d", i) }),
	)

	inv, err := svc.Build(req)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(inv.Prompt, "YT\n<BLACKLIST>\n- russia\n- crypto\n<WHITELIST>\n- golang"))
	assert.Contains(t, inv.Prompt, "STRICT OUTPUT RULES:\n- Output ONLY a newline-separated list of child IDs to hide (e.g., g1c0, g1c5).")
	assert.True(t, strings.HasSuffix(inv.Prompt, "\nVALID_CHILD_IDS:\ng1c0\ng1c1\n"))
	assert.Equal(t, map[string]struct{}{"g1c0": {}, "g1c1": {}}, inv.ValidIDs)
	assert.Equal(t, PlatformYouTube, inv.Platform)
	assert.Equal(t, `https?://(www\.)?youtube\.com`, inv.Pattern)
}

func TestService_Build_EmptyListsRemoveTags(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
prompts:
  - pattern: '.*'
    prompt: "A <BLACKLIST>|<WHITELIST> B"
`))
	require.NoError(t, err)

	req := newRequest(t, "https://example.com", nil, nil, gridOf("g1", 1, func(int) string { return "x" }))
	inv, err := NewService(catalog, zap.NewNop()).Build(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(inv.Prompt, "A | B\n\nSTRICT OUTPUT RULES"))
}

func TestService_Build_NoMatchUsesFirstEntry(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
prompts:
  - pattern: 'https://first\.example'
    prompt: "FIRST"
  - pattern: 'https://second\.example'
    prompt: "SECOND"
`))
	require.NoError(t, err)

	req := newRequest(t, "https://unknown.example/page", nil, nil, gridOf("g1", 1, func(int) string { return "x" }))
	inv, err := NewService(catalog, zap.NewNop()).Build(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(inv.Prompt, "FIRST"))
}

func TestService_Build_YouTubeSearchQuery(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	req := newRequest(t, "https://www.youtube.com/results?search_query=go+generics", nil, []string{"drama"},
		gridOf("g1", 1, func(int) string { return "Generics in Go" }),
	)

	inv, err := svc.Build(req)
	require.NoError(t, err)
	assert.Contains(t, inv.Prompt, "\n\nUSER_SEARCH_QUERY: go generics\nOnly keep videos and results relevant to this search query.")
	assert.Equal(t, `https?://(www\.)?youtube\.com/results\?.+`, inv.Pattern)
}

func TestService_BuildSimplified(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	req := newRequest(t, "https://x.com/home", nil, []string{"politics"},
		gridOf("g1", 1, func(int) string { return "post" }),
	)

	full, err := svc.Build(req)
	require.NoError(t, err)
	simple, err := svc.BuildSimplified(req)
	require.NoError(t, err)

	assert.Less(t, len(simple.Prompt), len(full.Prompt))
	assert.Contains(t, simple.Prompt, "<BLACKLIST>\n- politics")
	assert.Contains(t, simple.Prompt, "VALID_CHILD_IDS:\ng1c0\n")
	assert.Equal(t, full.Content, simple.Content)
	assert.Equal(t, PlatformTwitter, simple.Platform)
}

func TestCleanGrid(t *testing.T) {
	long := strings.Repeat("é", 60)
	gs, err := models.NewGridStructure("", []models.Grid{
		gridOf("g1", 12, func(int) string { return long }),
		{ID: "g2", GridText: strings.Repeat("a", 501), Children: []models.Child{{ID: "g2c0", Text: "<b>short</b>"}}},
	})
	require.NoError(t, err)

	cleaned := CleanGrid(gs)
	require.Len(t, cleaned.Grids, 2)

	assert.Equal(t, 2, cleaned.TotalGrids)
	assert.Len(t, cleaned.Grids[0].Children, 10)
	assert.Equal(t, 12, cleaned.Grids[0].TotalChildren)
	assert.Equal(t, strings.Repeat("é", 50)+"...", cleaned.Grids[0].Children[0].Text)
	assert.Equal(t, strings.Repeat("a", 500)+"...", cleaned.Grids[1].GridText)

	ids := cleaned.ValidIDs()
	assert.Len(t, ids, 11)
	assert.NotContains(t, ids, "g1c10")

	content, err := cleaned.Encode()
	require.NoError(t, err)
	assert.Contains(t, content, "<b>short</b>")
	assert.Contains(t, content, "\n  \"grids\": [")

	var decoded CleanedStructure
	require.NoError(t, json.Unmarshal([]byte(content), &decoded))
	assert.Equal(t, cleaned, decoded)
}

func TestDetectPlatform(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=1": PlatformYouTube,
		"https://twitter.com/home":          PlatformTwitter,
		"https://x.com/home":                PlatformTwitter,
		"https://www.reddit.com/r/golang":   PlatformReddit,
		"https://www.linkedin.com/feed/":    PlatformLinkedIn,
		"https://news.ycombinator.com":      PlatformGeneric,
	}
	for url, expected := range tests {
		assert.Equal(t, expected, DetectPlatform(url), url)
	}
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "lofi beats", SearchQuery("https://youtube.com/results?search_query=lofi%20beats"))
	assert.Empty(t, SearchQuery("https://www.youtube.com/results?"))
	assert.Empty(t, SearchQuery("https://www.youtube.com/watch?v=abc"))
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "prompts: []"},
		{"bad yaml", "prompts: ["},
		{"bad pattern", "prompts:\n  - pattern: '('\n    prompt: x"},
		{"empty prompt", "prompts:\n  - pattern: '.*'\n    prompt: ''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseCatalog_RelatedTerms(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
prompts:
  - pattern: '.*'
    prompt: x
related_terms:
  russia: [putin, kremlin]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"putin", "kremlin"}, catalog.RelatedTerms["russia"])
}

func TestDefaultCatalog_MatchesEverything(t *testing.T) {
	catalog := DefaultCatalog()
	for _, url := range []string{"https://www.youtube.com/", "https://example.org", ""} {
		_, ok := catalog.Match(url)
		assert.True(t, ok, url)
	}
}
