package models

import (
	"fmt"
	"net/url"
	"strings"
)

// FilterRequest is the input to a filtering decision. Construct it with
// NewFilterRequest; the constructor copies every slice so the request is not
// affected by later changes to the caller's data.
type FilterRequest struct {
	Grid      *GridStructure
	URL       string
	Whitelist []string
	Blacklist []string
	// Identity is the admission key (the client address)
	Identity  string
	VisitorID string
	RequestID string
}

// NewFilterRequest validates the grid structure and returns an immutable request
func NewFilterRequest(grid *GridStructure, rawURL string, whitelist, blacklist []string, identity string) (*FilterRequest, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: grid structure is required", ErrInvalidGridStructure)
	}

	grids := make([]Grid, len(grid.Grids))
	for i, g := range grid.Grids {
		children := make([]Child, len(g.Children))
		copy(children, g.Children)
		g.Children = children
		grids[i] = g
	}

	gs, err := NewGridStructure(grid.Timestamp, grids)
	if err != nil {
		return nil, err
	}
	if grid.TotalGrids > 0 {
		gs.TotalGrids = grid.TotalGrids
	}

	return &FilterRequest{
		Grid:      gs,
		URL:       strings.TrimSpace(rawURL),
		Whitelist: cleanTerms(whitelist),
		Blacklist: cleanTerms(blacklist),
		Identity:  identity,
	}, nil
}

// WithVisitor sets the visitor and request identifiers used for telemetry
func (r *FilterRequest) WithVisitor(visitorID, requestID string) *FilterRequest {
	r.VisitorID = visitorID
	r.RequestID = requestID
	return r
}

// NormalizedURL lowercases scheme and host and drops the fragment.
// Unparseable input is returned trimmed.
func (r *FilterRequest) NormalizedURL() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return r.URL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// ValidIDs returns the set of child ids a decision may reference
func (r *FilterRequest) ValidIDs() map[string]struct{} {
	ids := r.Grid.ChildIDs()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
