package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxFeedBytes caps how much of a feed is read.
const maxFeedBytes = 8 << 20

// Feed yields raw relay entries ("host:port" or "kind://host:port").
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// HTTPFeed downloads a whitespace separated list over HTTP.
type HTTPFeed struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPFeed returns a feed reading url with client.
func NewHTTPFeed(name, url string, client *http.Client) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{name: name, url: url, client: client}
}

func (f *HTTPFeed) Name() string { return f.name }

func (f *HTTPFeed) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed %s: unexpected status %s", f.name, resp.Status)
	}
	return parseList(io.LimitReader(resp.Body, maxFeedBytes))
}

// FileFeed reads a whitespace separated list from a local file, the same
// format as the initial list.
type FileFeed struct {
	name string
	path string
}

// NewFileFeed returns a feed reading path.
func NewFileFeed(name, path string) *FileFeed {
	return &FileFeed{name: name, path: path}
}

func (f *FileFeed) Name() string { return f.name }

func (f *FileFeed) Fetch(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}
	defer file.Close()
	return parseList(io.LimitReader(file, maxFeedBytes))
}

// parseList splits r into entries. Blank lines and lines starting with '#'
// are skipped.
func parseList(r io.Reader) ([]string, error) {
	var entries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
