// Package clients answers which OAuth clients may start a device flow
package clients

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gopkg.in/yaml.v3"

	"github.com/wrale/device-grant/internal/deviceflow"
)

// Registry is the client lookup used by the device flow
type Registry = deviceflow.ClientRegistry

// Client is a registered device client
type Client struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	CallbackURI string `yaml:"callback_uri"`
}

// AllowAll accepts every non-empty client id
type AllowAll struct{}

// Exists reports true for any client id
func (AllowAll) Exists(_ context.Context, clientID string) (bool, error) {
	return clientID != "", nil
}

// FileRegistry is a fixed set of clients loaded from YAML
type FileRegistry struct {
	clients map[string]Client
}

type registryFile struct {
	Clients []Client `yaml:"clients"`
}

// LoadFile reads a registry from a YAML file of the form
//
//	clients:
//	  - id: living-room-tv
//	    name: Living room TV
func LoadFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML
func Parse(data []byte) (*FileRegistry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing clients file: %w", err)
	}

	r := &FileRegistry{clients: make(map[string]Client, len(f.Clients))}
	for i, c := range f.Clients {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("client %d has no id", i)
		}
		if _, dup := r.clients[c.ID]; dup {
			return nil, fmt.Errorf("client %q listed twice", c.ID)
		}
		c.CallbackURI = strings.TrimSpace(c.CallbackURI)
		if c.CallbackURI != "" {
			if u, err := url.Parse(c.CallbackURI); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
				return nil, fmt.Errorf("client %q: callback_uri must be an absolute http(s) URL", c.ID)
			}
		}
		r.clients[c.ID] = c
	}
	return r, nil
}

// Exists reports whether the client is listed
func (r *FileRegistry) Exists(_ context.Context, clientID string) (bool, error) {
	_, ok := r.clients[clientID]
	return ok, nil
}

// Clients returns the listed clients
func (r *FileRegistry) Clients() []Client {
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// CallbackStore keeps per-client callback URIs
type CallbackStore interface {
	CallbackURI(ctx context.Context, clientID string) (string, error)
	SetCallbackURI(ctx context.Context, clientID, uri string) error
}

// SeedCallbacks records the callback_uri of every listed client that has none
// stored yet. URIs set through the admin API are left alone. It returns the
// number of clients seeded.
func (r *FileRegistry) SeedCallbacks(ctx context.Context, dst CallbackStore, logger *slog.Logger) (int, error) {
	seeded := 0
	for _, c := range r.clients {
		if c.CallbackURI == "" {
			continue
		}
		current, err := dst.CallbackURI(ctx, c.ID)
		if err != nil {
			return seeded, fmt.Errorf("reading callback for %q: %w", c.ID, err)
		}
		if current != "" {
			continue
		}
		if err := dst.SetCallbackURI(ctx, c.ID, c.CallbackURI); err != nil {
			return seeded, fmt.Errorf("seeding callback for %q: %w", c.ID, err)
		}
		logger.InfoContext(ctx, "client callback seeded", "client_id", c.ID, "client_name", c.Name)
		seeded++
	}
	return seeded, nil
}

// FileSource re-reads a registry file on every lookup so edits apply without a
// restart. Put it behind Cached.
type FileSource struct {
	path string
}

// NewFileSource creates a registry backed by the YAML file at path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Exists loads the file and looks the client up
func (s *FileSource) Exists(ctx context.Context, clientID string) (bool, error) {
	r, err := LoadFile(s.path)
	if err != nil {
		return false, err
	}
	return r.Exists(ctx, clientID)
}

// Cached memoizes another registry's answers for ttl
type Cached struct {
	next  Registry
	cache *cache.Cache
}

// NewCached wraps next with a go-cache of positive and negative answers
func NewCached(next Registry, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

// Exists consults the cache before the wrapped registry. Errors are not cached.
func (c *Cached) Exists(ctx context.Context, clientID string) (bool, error) {
	if v, ok := c.cache.Get(clientID); ok {
		return v.(bool), nil
	}
	ok, err := c.next.Exists(ctx, clientID)
	if err != nil {
		return false, err
	}
	c.cache.SetDefault(clientID, ok)
	return ok, nil
}
