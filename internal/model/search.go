package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/purell"
)

var InvalidLocationError = errors.New("invalid search location")

var locationPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// SearchInput holds the raw search parameters from the configuration.
type SearchInput struct {
	Locations []string
	Category  string
	Query     string
	Filters   map[string]string
}

// Search is a validated query. The seed URL set is derived once and never changes.
type Search struct {
	locations []string
	category  string
	query     string
	filters   map[string]string
	urls      []string
}

func NewSearch(in SearchInput) (*Search, error) {
	category := strings.Trim(strings.TrimSpace(in.Category), "/")
	if category == "" {
		category = "sss"
	}
	s := &Search{
		category: category,
		query:    strings.TrimSpace(in.Query),
		filters:  make(map[string]string, len(in.Filters)),
	}
	seen := make(map[string]bool, len(in.Locations))
	for _, loc := range in.Locations {
		loc = strings.ToLower(strings.TrimSpace(loc))
		if !locationPattern.MatchString(loc) {
			return nil, fmt.Errorf("%w: %q", InvalidLocationError, loc)
		}
		if seen[loc] {
			continue
		}
		seen[loc] = true
		s.locations = append(s.locations, loc)
	}
	for k, v := range in.Filters {
		s.filters[k] = v
	}

	for _, loc := range s.locations {
		u, err := s.buildURL(loc)
		if err != nil {
			return nil, err
		}
		s.urls = append(s.urls, u)
	}

	return s, nil
}

func (s *Search) buildURL(location string) (string, error) {
	q := url.Values{}
	if s.query != "" {
		q.Set("query", s.query)
	}
	keys := make([]string, 0, len(s.filters))
	for k := range s.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, s.filters[k])
	}
	u := url.URL{
		Scheme:   "https",
		Host:     location + ".craigslist.org",
		Path:     "/search/" + s.category,
		RawQuery: q.Encode(),
	}

	normUrl, err := purell.NormalizeURLString(u.String(), purell.FlagsSafe|purell.FlagSortQuery)
	if err != nil {
		return "", fmt.Errorf("normalize search url: %w", err)
	}
	return normUrl, nil
}

// URLs returns the seed URLs, one per location.
func (s *Search) URLs() []string {
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out
}

func (s *Search) Locations() []string {
	out := make([]string, len(s.locations))
	copy(out, s.locations)
	return out
}
