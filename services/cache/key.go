package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
	"github.com/sanoy-si/doom-blocker-backend/models"
)

// fingerprint holds the request fields that make two requests equivalent.
// Child text is deliberately absent: identical page shapes share a key.
type fingerprint struct {
	URL           string   `json:"url"`
	Whitelist     []string `json:"whitelist"`
	Blacklist     []string `json:"blacklist"`
	GridIDs       []string `json:"grid_ids"`
	TotalChildren int      `json:"total_children"`
}

// KeyFor derives the cache key of a request: the sha256 of the RFC 8785
// canonical JSON of its fingerprint
func KeyFor(req *models.FilterRequest) (string, error) {
	fp := fingerprint{
		URL:           req.NormalizedURL(),
		Whitelist:     sortedCopy(req.Whitelist),
		Blacklist:     sortedCopy(req.Blacklist),
		GridIDs:       req.Grid.GridIDs(),
		TotalChildren: req.Grid.TotalChildren(),
	}

	raw, err := json.Marshal(fp)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
