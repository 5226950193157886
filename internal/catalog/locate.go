package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// DefaultFileName is the catalog file name searched for when none is given.
const DefaultFileName = "sites.json"

// ErrNotFound is returned by Locate when no catalog exists in any search location.
var ErrNotFound = errors.New("no site catalog found")

// SearchPaths lists the places Locate looks at, in order: the working directory, the
// directory of the executable, then ~/.consoledeploy.
func SearchPaths() []string {
	paths := []string{DefaultFileName}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), DefaultFileName))
	}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".consoledeploy", DefaultFileName))
	}
	return paths
}

// Locate resolves the catalog path. An explicit path is expanded ("~/...") and must
// exist; otherwise the first existing file from SearchPaths wins.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		expanded, err := homedir.Expand(explicit)
		if err != nil {
			return "", fmt.Errorf("failed to expand catalog path %q: %w", explicit, err)
		}
		if _, err := os.Stat(expanded); err != nil {
			return "", fmt.Errorf("catalog %s: %w", expanded, err)
		}
		return expanded, nil
	}
	return locateIn(SearchPaths())
}

func locateIn(candidates []string) (string, error) {
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (searched %v)", ErrNotFound, candidates)
}

// WriteDefault writes sites in the canonical {"urls": {id: url}} form, keeping their order.
// Parent directories are created as needed.
func WriteDefault(path string, sites []schemas.SiteEndpoint) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("failed to expand catalog path %q: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	data, err := Encode(sites)
	if err != nil {
		return err
	}
	if err := os.WriteFile(expanded, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog %s: %w", expanded, err)
	}
	return nil
}

// Encode renders sites as an indented canonical JSON catalog.
func Encode(sites []schemas.SiteEndpoint) ([]byte, error) {
	cfg := jsoniter.Config{EscapeHTML: false, IndentionStep: 2}.Froze()
	stream := cfg.BorrowStream(nil)
	defer cfg.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField("urls")
	stream.WriteObjectStart()
	for i, s := range sites {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(s.ID)
		stream.WriteString(s.URL)
	}
	stream.WriteObjectEnd()
	stream.WriteObjectEnd()
	stream.WriteRaw("\n")

	if stream.Error != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", stream.Error)
	}
	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())
	return out, nil
}

// Example is the catalog written by --init-catalog when nothing exists yet.
func Example() []schemas.SiteEndpoint {
	return []schemas.SiteEndpoint{
		{ID: "en", URL: "https://admin.example.com/frontend/page/article-list"},
		{ID: "tw", URL: "https://tw-admin.example.com/frontend/page/article-list"},
	}
}
