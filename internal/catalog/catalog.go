// Package catalog loads the list of admin consoles a batch runs against.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnsupportedFormat is returned for catalog files that are neither .json nor .txt.
	ErrUnsupportedFormat = errors.New("unsupported catalog format")
	// ErrInvalidCatalog is returned when a JSON catalog matches none of the accepted shapes.
	ErrInvalidCatalog = errors.New("invalid catalog: expected {\"urls\": {id: url}}, {\"urls\": [url]} or [url]")
	// ErrIncludeExcludeConflict is returned when both an include and an exclude list are given.
	ErrIncludeExcludeConflict = errors.New("include and exclude lists are mutually exclusive")
)

// Format identifies how a catalog file is encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "txt"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q (use .json or .txt)", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Catalog is an ordered, id-unique list of sites.
type Catalog struct {
	Source string
	Sites  []schemas.SiteEndpoint
}

// IDs returns the site ids in catalog order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Sites))
	for i, s := range c.Sites {
		ids[i] = s.ID
	}
	return ids
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	sites, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return &Catalog{Source: path, Sites: sites}, nil
}

// Parse decodes catalog bytes. JSON objects keep the key order of the document.
func Parse(data []byte, format Format) ([]schemas.SiteEndpoint, error) {
	switch format {
	case FormatText:
		return parseText(data), nil
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func parseText(data []byte) []schemas.SiteEndpoint {
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		if u := strings.TrimSpace(line); u != "" {
			urls = append(urls, u)
		}
	}
	return numbered(urls)
}

func parseJSON(data []byte) ([]schemas.SiteEndpoint, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidCatalog)
	}
	iter := jsoniter.ParseBytes(json, data)

	var sites []schemas.SiteEndpoint
	var err error
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		var urls []string
		urls, err = readURLList(iter)
		sites = numbered(urls)
	case jsoniter.ObjectValue:
		found := false
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if field != "urls" || found {
				iter.Skip()
				continue
			}
			found = true
			switch iter.WhatIsNext() {
			case jsoniter.ObjectValue:
				sites, err = readURLMap(iter)
			case jsoniter.ArrayValue:
				var urls []string
				urls, err = readURLList(iter)
				sites = numbered(urls)
			default:
				return nil, ErrInvalidCatalog
			}
			if err != nil {
				return nil, err
			}
		}
		if !found {
			return nil, ErrInvalidCatalog
		}
	default:
		return nil, ErrInvalidCatalog
	}

	if err != nil {
		return nil, err
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return nil, fmt.Errorf("malformed json: %w", iter.Error)
	}
	return sites, nil
}

func readURLList(iter *jsoniter.Iterator) ([]string, error) {
	var urls []string
	for iter.ReadArray() {
		if iter.WhatIsNext() != jsoniter.StringValue {
			return nil, fmt.Errorf("%w: url entries must be strings", ErrInvalidCatalog)
		}
		urls = append(urls, strings.TrimSpace(iter.ReadString()))
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return nil, fmt.Errorf("malformed json: %w", iter.Error)
	}
	return urls, nil
}

func readURLMap(iter *jsoniter.Iterator) ([]schemas.SiteEndpoint, error) {
	var sites []schemas.SiteEndpoint
	index := make(map[string]int)
	for id := iter.ReadObject(); id != ""; id = iter.ReadObject() {
		if iter.WhatIsNext() != jsoniter.StringValue {
			return nil, fmt.Errorf("%w: url for site %q must be a string", ErrInvalidCatalog, id)
		}
		url := strings.TrimSpace(iter.ReadString())
		// A repeated key overrides the earlier value but keeps its position.
		if i, ok := index[id]; ok {
			sites[i].URL = url
			continue
		}
		index[id] = len(sites)
		sites = append(sites, schemas.SiteEndpoint{ID: id, URL: url})
	}
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return nil, fmt.Errorf("malformed json: %w", iter.Error)
	}
	return sites, nil
}

func numbered(urls []string) []schemas.SiteEndpoint {
	sites := make([]schemas.SiteEndpoint, 0, len(urls))
	for i, u := range urls {
		sites = append(sites, schemas.SiteEndpoint{ID: fmt.Sprintf("site%d", i+1), URL: u})
	}
	return sites
}

// ParseIDList splits a comma separated id list, dropping blanks.
func ParseIDList(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// FilterResult is the outcome of applying include/exclude lists.
type FilterResult struct {
	Sites []schemas.SiteEndpoint
	// Missing lists included ids that the catalog does not contain.
	Missing []string
}

// Filter narrows the catalog. With include, only the named ids are kept, in include
// order. With exclude, every other site is kept in catalog order. With neither, the
// catalog is returned unchanged.
func Filter(c *Catalog, include, exclude []string) (FilterResult, error) {
	if len(include) > 0 && len(exclude) > 0 {
		return FilterResult{}, ErrIncludeExcludeConflict
	}

	byID := make(map[string]schemas.SiteEndpoint, len(c.Sites))
	for _, s := range c.Sites {
		byID[s.ID] = s
	}

	var res FilterResult
	switch {
	case len(include) > 0:
		seen := make(map[string]struct{}, len(include))
		for _, id := range include {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			site, ok := byID[id]
			if !ok {
				res.Missing = append(res.Missing, id)
				continue
			}
			res.Sites = append(res.Sites, site)
		}
	case len(exclude) > 0:
		skip := make(map[string]struct{}, len(exclude))
		for _, id := range exclude {
			skip[id] = struct{}{}
		}
		for _, s := range c.Sites {
			if _, excluded := skip[s.ID]; !excluded {
				res.Sites = append(res.Sites, s)
			}
		}
	default:
		res.Sites = append(res.Sites, c.Sites...)
	}
	return res, nil
}
