// Package prompt builds the model invocation for a filtering request: the
// system instruction chosen by URL, the cleaned grid payload and the list of
// child ids the model is allowed to return.
package prompt

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sanoy-si/doom-blocker-backend/models"
)

const (
	blacklistTag = "<BLACKLIST>"
	whitelistTag = "<WHITELIST>"
)

var youtubeSearchPattern = regexp.MustCompile(`^https?://(www\.)?youtube\.com/results\?(.+)`)

const strictOutputRules = "\n\nSTRICT OUTPUT RULES:\n" +
	"- Output ONLY a newline-separated list of child IDs to hide (e.g., g1c0, g1c5).\n" +
	"- Do NOT include any explanations, JSON, code fences, or extra text.\n" +
	"- If nothing should be hidden, return an empty string.\n" +
	"- You MUST only return IDs from the VALID_CHILD_IDS list below. Never invent IDs.\n" +
	"- Prefer to hide content matching blacklist terms and unrelated to whitelist intent.\n" +
	"\nVALID_CHILD_IDS:\n"

const simplifiedInstruction = "Hide page items about the topics under BLACKLIST. " +
	"Keep items relevant to the topics under WHITELIST.\n\n<BLACKLIST>\n\n<WHITELIST>"

// Invocation is everything the model client needs for one call
type Invocation struct {
	Prompt   string
	Content  string
	ValidIDs map[string]struct{}
	Platform string
	// Pattern is the catalog pattern that selected the instruction
	Pattern string
}

// Builder produces model invocations. Implementations must be pure.
type Builder interface {
	Build(req *models.FilterRequest) (Invocation, error)
	// BuildSimplified returns a shorter instruction for the alternate model
	BuildSimplified(req *models.FilterRequest) (Invocation, error)
}

// Service is the catalog-backed Builder
type Service struct {
	catalog *Catalog
	logger  *zap.Logger
}

func NewService(catalog *Catalog, logger *zap.Logger) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Service{catalog: catalog, logger: logger}
}

// Catalog returns the catalog in use
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) Build(req *models.FilterRequest) (Invocation, error) {
	entry, matched := s.catalog.Match(req.URL)
	if !matched {
		s.logger.Warn("no prompt pattern matched url, using default",
			zap.String("url", req.URL),
			zap.String("pattern", entry.Pattern),
		)
	}
	return s.invocation(req, entry.Prompt, entry.Pattern)
}

func (s *Service) BuildSimplified(req *models.FilterRequest) (Invocation, error) {
	return s.invocation(req, simplifiedInstruction, "")
}

func (s *Service) invocation(req *models.FilterRequest, base, pattern string) (Invocation, error) {
	cleaned := CleanGrid(req.Grid)
	content, err := cleaned.Encode()
	if err != nil {
		return Invocation{}, fmt.Errorf("failed to encode grid for model: %w", err)
	}

	ids := cleaned.ValidIDs()
	valid := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		valid[id] = struct{}{}
	}

	instruction := ApplyTerms(base, req.Whitelist, req.Blacklist)
	if q := SearchQuery(req.URL); q != "" {
		instruction += "\n\nUSER_SEARCH_QUERY: " + q + "\nOnly keep videos and results relevant to this search query."
	}

	return Invocation{
		Prompt:   instruction + strictOutputRules + strings.Join(ids, "\n") + "\n",
		Content:  content,
		ValidIDs: valid,
		Platform: DetectPlatform(req.URL),
		Pattern:  pattern,
	}, nil
}

// ApplyTerms expands the list tags in an instruction. An empty list removes its tag.
func ApplyTerms(instruction string, whitelist, blacklist []string) string {
	instruction = expandTag(instruction, blacklistTag, blacklist)
	return expandTag(instruction, whitelistTag, whitelist)
}

func expandTag(instruction, tag string, terms []string) string {
	if len(terms) == 0 {
		return strings.ReplaceAll(instruction, tag, "")
	}
	items := make([]string, len(terms))
	for i, t := range terms {
		items[i] = "- " + t
	}
	return strings.ReplaceAll(instruction, tag, tag+"\n"+strings.Join(items, "\n"))
}

// SearchQuery returns the search_query parameter of a YouTube results URL
func SearchQuery(rawURL string) string {
	if !youtubeSearchPattern.MatchString(rawURL) {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("search_query")
}
