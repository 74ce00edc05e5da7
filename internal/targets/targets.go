// internal/targets/targets.go

// Package targets loads delivery destinations from the supported input
// shapes: command-line arguments, line-oriented text files, JSON arrays,
// and XML sitemaps. Loaded targets are immutable; IDs not supplied by the
// input are derived deterministically from the destination so re-runs
// produce correlatable results.
package targets

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

// FromArgs builds targets from destinations given directly on the command
// line.
func FromArgs(destinations []string) ([]schemas.Target, error) {
	out := make([]schemas.Target, 0, len(destinations))
	for i, dest := range destinations {
		t, err := newTarget("", dest)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return dedupe(out)
}

// FromFile loads targets from a file, dispatching on its extension:
// .json for a JSON array, .xml for a sitemap, anything else is treated as
// one destination per line.
func FromFile(path string) ([]schemas.Target, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding targets path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}

	var loaded []schemas.Target
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".json":
		loaded, err = fromJSON(data)
	case ".xml":
		loaded, err = fromSitemap(data)
	default:
		loaded, err = fromLines(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dedupe(loaded)
}

// Merge concatenates target lists, dropping duplicate destinations while
// preserving first-seen order.
func Merge(lists ...[]schemas.Target) ([]schemas.Target, error) {
	var all []schemas.Target
	for _, list := range lists {
		all = append(all, list...)
	}
	return dedupe(all)
}

func fromLines(data []byte) ([]schemas.Target, error) {
	var out []schemas.Target
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := newTarget("", line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func fromJSON(data []byte) ([]schemas.Target, error) {
	var entries []schemas.Target
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing JSON targets: %w", err)
	}

	out := make([]schemas.Target, 0, len(entries))
	for i, e := range entries {
		t, err := newTarget(e.ID, e.Destination)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// fromSitemap pulls <loc> entries out of a sitemap urlset. Sitemap index
// files point at further sitemaps, not destinations, and are rejected.
func fromSitemap(data []byte) ([]schemas.Target, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing sitemap XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("sitemap has no root element")
	}
	switch root.Tag {
	case "urlset":
	case "sitemapindex":
		return nil, fmt.Errorf("sitemap index files are not supported, pass a concrete sitemap")
	default:
		return nil, fmt.Errorf("unexpected sitemap root element <%s>", root.Tag)
	}

	var out []schemas.Target
	for i, loc := range doc.FindElements("//url/loc") {
		t, err := newTarget("", strings.TrimSpace(loc.Text()))
		if err != nil {
			return nil, fmt.Errorf("url entry %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func newTarget(id, destination string) (schemas.Target, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return schemas.Target{}, fmt.Errorf("destination is empty")
	}

	u, err := url.Parse(destination)
	if err != nil {
		return schemas.Target{}, fmt.Errorf("destination %q: %w", destination, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return schemas.Target{}, fmt.Errorf("destination %q must be an absolute http(s) URL", destination)
	}
	if u.Host == "" {
		return schemas.Target{}, fmt.Errorf("destination %q has no host", destination)
	}

	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(destination)).String()
	}
	return schemas.Target{ID: id, Destination: destination}, nil
}

// dedupe drops repeated destinations (first occurrence wins) and rejects
// conflicting reuse of an explicit ID.
func dedupe(ts []schemas.Target) ([]schemas.Target, error) {
	seenDest := make(map[string]struct{}, len(ts))
	seenID := make(map[string]string, len(ts))
	out := make([]schemas.Target, 0, len(ts))

	for _, t := range ts {
		if _, dup := seenDest[t.Destination]; dup {
			continue
		}
		if prev, taken := seenID[t.ID]; taken {
			return nil, fmt.Errorf("target id %q used for both %q and %q", t.ID, prev, t.Destination)
		}
		seenDest[t.Destination] = struct{}{}
		seenID[t.ID] = t.Destination
		out = append(out, t)
	}
	return out, nil
}
