// Package registry talks to an npm compatible package registry: it reads
// published metadata over HTTP and publishes packages with the npm CLI.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"resty.dev/v3"

	"github.com/vk/monorelease/internal/ctxlog"
)

// DefaultURL is the public npm registry.
const DefaultURL = "https://registry.npmjs.org"

// ErrNotFound is returned by Metadata for a package that was never published.
var ErrNotFound = errors.New("package not found in registry")

// Metadata is the published state of one package.
type Metadata struct {
	Name     string
	Versions []string
	DistTags map[string]string
}

// Has reports whether v was published.
func (m *Metadata) Has(v string) bool {
	for _, pv := range m.Versions {
		if pv == v {
			return true
		}
	}
	return false
}

type packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// Client reads package metadata.
type Client struct {
	http *resty.Client
}

// NewClient returns a client for the registry at baseURL. token is optional.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error { return c.http.Close() }

// Metadata fetches the published versions and dist-tags of name.
func (c *Client) Metadata(ctx context.Context, name string) (*Metadata, error) {
	logger := ctxlog.FromContext(ctx)
	var doc packument
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetResult(&doc).
		Get("/{name}")
	if err != nil {
		return nil, fmt.Errorf("fetch registry metadata for %s: %w", name, err)
	}
	logger.Debug("Fetched registry metadata.", "package", name, "status", res.StatusCode())

	switch {
	case res.StatusCode() == http.StatusNotFound:
		return nil, ErrNotFound
	case res.IsError():
		return nil, fmt.Errorf("fetch registry metadata for %s: %s: %s", name, res.Status(), res.String())
	}

	m := &Metadata{Name: name, DistTags: doc.DistTags, Versions: make([]string, 0, len(doc.Versions))}
	for v := range doc.Versions {
		m.Versions = append(m.Versions, v)
	}
	sort.Strings(m.Versions)
	if m.DistTags == nil {
		m.DistTags = map[string]string{}
	}
	return m, nil
}
