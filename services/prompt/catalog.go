package prompt

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Entry is one URL pattern and the base instruction used for pages it matches
type Entry struct {
	Pattern string `yaml:"pattern"`
	Prompt  string `yaml:"prompt"`

	re *regexp.Regexp
}

// Catalog is the ordered prompt table. The first entry is the default for
// URLs that match no pattern.
type Catalog struct {
	Prompts      []Entry             `yaml:"prompts"`
	RelatedTerms map[string][]string `yaml:"related_terms"`
}

// LoadCatalog reads a YAML catalog from path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and compiles a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) compile() error {
	if len(c.Prompts) == 0 {
		return fmt.Errorf("prompt catalog has no entries")
	}
	for i := range c.Prompts {
		e := &c.Prompts[i]
		if e.Prompt == "" {
			return fmt.Errorf("prompt catalog entry %d (%q) has an empty prompt", i, e.Pattern)
		}
		// patterns match from the start of the URL
		re, err := regexp.Compile("^(?:" + e.Pattern + ")")
		if err != nil {
			return fmt.Errorf("prompt catalog entry %d: invalid pattern %q: %w", i, e.Pattern, err)
		}
		e.re = re
	}
	return nil
}

// Match returns the first entry whose pattern matches url. When nothing
// matches it returns the first entry and false.
func (c *Catalog) Match(url string) (Entry, bool) {
	for _, e := range c.Prompts {
		if e.re != nil && e.re.MatchString(url) {
			return e, true
		}
	}
	return c.Prompts[0], false
}

const feedInstruction = `You are a content filter for a browser extension. You receive a JSON
description of the page: grids of content items (children), each with an id
and its visible text. Decide which children should be hidden for this user.

Hide a child when its text is about any topic listed under BLACKLIST, including
names, places and events closely tied to that topic. Keep a child when it is
relevant to any topic listed under WHITELIST, even if it also touches a
blacklisted topic. When a WHITELIST is given, hide children that are clearly
unrelated to it. Navigation, ads and empty items should be left alone.
`

// DefaultCatalog is used when no catalog file is configured. Its last entry
// matches any URL.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Prompts: []Entry{
			{
				Pattern: `https?://(www\.)?youtube\.com/results\?.+`,
				Prompt: feedInstruction + `
The page is a YouTube search results list. Each child is a video, short,
playlist or channel result.

<BLACKLIST>

<WHITELIST>`,
			},
			{
				Pattern: `https?://(www\.|m\.)?youtube\.com`,
				Prompt: feedInstruction + `
The page is a YouTube feed. Each child is a video or short recommendation;
the text carries the title, channel and view count.

<BLACKLIST>

<WHITELIST>`,
			},
			{
				Pattern: `https?://(www\.)?(twitter|x)\.com`,
				Prompt: feedInstruction + `
The page is an X (Twitter) timeline. Each child is a post.

<BLACKLIST>

<WHITELIST>`,
			},
			{
				Pattern: `https?://(www\.|old\.)?reddit\.com`,
				Prompt: feedInstruction + `
The page is a Reddit listing. Each child is a post title with its subreddit.

<BLACKLIST>

<WHITELIST>`,
			},
			{
				Pattern: `https?://(www\.)?linkedin\.com`,
				Prompt: feedInstruction + `
The page is a LinkedIn feed. Each child is a post or promoted item.

<BLACKLIST>

<WHITELIST>`,
			},
			{
				Pattern: `.*`,
				Prompt:  feedInstruction + "\n<BLACKLIST>\n\n<WHITELIST>",
			},
		},
	}
	if err := c.compile(); err != nil {
		panic(err)
	}
	return c
}
