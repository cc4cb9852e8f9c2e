// Package credentials looks up database credentials in a netrc file.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgentry/go-netrc/netrc"
)

// ErrNotFound is returned when no machine entry matches the server.
var ErrNotFound = errors.New("no netrc entry for server")

// NetrcStore resolves user/password pairs from a netrc file. Machines are
// matched on the server name first, then on the server host.
type NetrcStore struct {
	path string
}

// NewNetrcStore returns a store reading path. An empty path selects
// $NETRC or ~/.netrc.
func NewNetrcStore(path string) *NetrcStore {
	if path == "" {
		path = DefaultNetrcPath()
	}
	return &NetrcStore{path: path}
}

// DefaultNetrcPath returns $NETRC when set, otherwise ~/.netrc
func DefaultNetrcPath() string {
	if p := os.Getenv("NETRC"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netrc"
	}
	return filepath.Join(home, ".netrc")
}

// Path returns the netrc file this store reads
func (s *NetrcStore) Path() string {
	return s.path
}

// Resolve returns the login and password stored for the server
func (s *NetrcStore) Resolve(ctx context.Context, host, name string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	parsed, err := netrc.ParseFile(s.path)
	if err != nil {
		return "", "", fmt.Errorf("parse netrc file %s: %w", s.path, err)
	}

	for _, key := range []string{name, host} {
		if key == "" {
			continue
		}
		m := parsed.FindMachine(key)
		if m == nil || m.IsDefault() {
			continue
		}
		if m.Login == "" {
			return "", "", fmt.Errorf("netrc entry %q has no login", key)
		}
		return m.Login, m.Password, nil
	}

	return "", "", fmt.Errorf("%w: name=%q host=%q", ErrNotFound, name, host)
}
