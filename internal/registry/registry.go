// Package registry holds the trusted bank registry: a static mapping from a
// bank's display name to its canonical URL. A registry is loaded once at
// startup and never mutated afterwards, so it is safe for concurrent reads.
package registry

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyRegistry = errors.New("registry: no entries")
	ErrInvalidEntry  = errors.New("registry: invalid entry")
)

//go:embed data/banks.json
var defaultBanks []byte

// Entry is one trusted bank.
type Entry struct {
	Name            string `json:"name"`
	CanonicalURL    string `json:"canonicalUrl"`
	CanonicalDomain string `json:"canonicalDomain"`
}

// fileEntry is the on-disk shape: {"<name>": {"url": "<canonical url>"}}.
type fileEntry struct {
	URL string `json:"url" yaml:"url"`
}

// Registry is an immutable, name-sorted set of trusted banks.
type Registry struct {
	entries []Entry
	byName  map[string]Entry // lowercased name
}

// New builds a registry from name → canonical URL pairs.
func New(urls map[string]string) (*Registry, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{
		entries: make([]Entry, 0, len(urls)),
		byName:  make(map[string]Entry, len(urls)),
	}
	for name, raw := range urls {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty bank name", ErrInvalidEntry)
		}
		domain, err := CanonicalDomain(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, name, err)
		}
		e := Entry{Name: name, CanonicalURL: raw, CanonicalDomain: domain}
		r.entries = append(r.entries, e)
		r.byName[strings.ToLower(name)] = e
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Name < r.entries[j].Name })
	return r, nil
}

// Default returns the registry of Indian banks compiled into the binary.
func Default() (*Registry, error) {
	return Parse(defaultBanks, ".json")
}

// LoadFile reads a registry from a JSON or YAML file, chosen by extension.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes registry data. ext selects the decoder: ".yaml" and ".yml"
// use YAML, anything else JSON.
func Parse(data []byte, ext string) (*Registry, error) {
	raw := map[string]fileEntry{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode registry yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode registry json: %w", err)
		}
	}

	urls := make(map[string]string, len(raw))
	for name, fe := range raw {
		urls[name] = fe.URL
	}
	return New(urls)
}

// CanonicalDomain extracts the lowercased host of a bank URL with any
// leading "www." removed, so subdomains of the bank still match.
func CanonicalDomain(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// Entries returns a copy of all entries in name order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of trusted banks.
func (r *Registry) Len() int { return len(r.entries) }

// Lookup finds an entry by display name, case-insensitively.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// IsTrustedHost reports whether any canonical domain is a substring of host.
// Substring matching accepts subdomains; it also accepts lookalike hosts
// that embed a canonical domain, such as "hdfcbank.com.evil.io".
func (r *Registry) IsTrustedHost(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, e := range r.entries {
		if strings.Contains(host, e.CanonicalDomain) {
			return true
		}
	}
	return false
}
