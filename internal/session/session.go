// Package session loads and saves the credential bundle used by the page
// fetcher. The bundle is captured outside this program (browser extension
// export or a Playwright storage_state file); here it is treated as opaque
// data that is passed through to requests unchanged.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// Cookie is one browser cookie as serialized by common capture tools.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// Bundle is a captured session: cookies plus whatever localStorage entries
// the capture flow preserved (kept verbatim, never interpreted).
type Bundle struct {
	Cookies      []Cookie          `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage,omitempty"`
}

// storageState mirrors the two accepted file shapes: either a bare cookie
// list or an object with a top-level cookies key (Playwright storage_state,
// or this package's own save format).
type storageState struct {
	Cookies      []Cookie          `json:"cookies"`
	LocalStorage map[string]string `json:"localStorage"`
}

// Load reads a bundle from path. A missing file yields an empty bundle so
// scrapers can run anonymously; malformed content is an error.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Bundle{}, nil
		}
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}

	return Parse(data, path)
}

// Parse decodes bundle bytes in either accepted shape.
func Parse(data []byte, name string) (*Bundle, error) {
	// Legacy format: bare list of cookies.
	var list []Cookie
	if err := json.Unmarshal(data, &list); err == nil {
		return &Bundle{Cookies: dropNameless(list)}, nil
	}

	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("session file %s is neither a cookie list nor a storage state: %w", name, err)
	}
	return &Bundle{Cookies: dropNameless(state.Cookies), LocalStorage: state.LocalStorage}, nil
}

// Save writes the bundle in the storage_state-compatible object format.
func Save(path string, b *Bundle) error {
	data, err := json.MarshalIndent(storageState{Cookies: b.Cookies, LocalStorage: b.LocalStorage}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}
	return nil
}

// HTTPCookies converts the bundle to request cookies.
func (b *Bundle) HTTPCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(b.Cookies))
	for _, c := range b.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies
}

// Empty reports whether the bundle carries no credentials.
func (b *Bundle) Empty() bool {
	return len(b.Cookies) == 0
}

func dropNameless(cookies []Cookie) []Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name != "" {
			out = append(out, c)
		}
	}
	return out
}
