package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
)

// StaticAuthenticator resolves tokens against a fixed table loaded from
// configuration. It suits local development and smoke environments.
type StaticAuthenticator struct {
	mu      sync.RWMutex
	entries []staticEntry
}

type staticEntry struct {
	token    string
	identity gateway.Identity
}

// NewStaticAuthenticator creates an authenticator from a token to player id
// table.
func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	a := &StaticAuthenticator{}
	for token, player := range tokens {
		a.entries = append(a.entries, staticEntry{token: token, identity: gateway.Identity{PlayerID: player}})
	}
	return a
}

// ParseStaticTokens parses "token:player" or "token:player:name" entries.
func ParseStaticTokens(entries []string) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[1] == "" {
			return nil, fmt.Errorf("auth: static token entry %q: want token:player[:name]", MaskToken(parts[0]))
		}
		if err := ParseToken(parts[0]); err != nil {
			return nil, fmt.Errorf("auth: static token entry %q: %w", MaskToken(parts[0]), err)
		}
		id := gateway.Identity{PlayerID: parts[1]}
		if len(parts) == 3 {
			id.Name = parts[2]
		}
		if err := a.Add(parts[0], id); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Add registers a token. Registering the same token twice is an error.
func (a *StaticAuthenticator) Add(token string, id gateway.Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.token == token {
			return fmt.Errorf("auth: duplicate static token %s", MaskToken(token))
		}
	}
	a.entries = append(a.entries, staticEntry{token: token, identity: id})
	return nil
}

// Len returns the number of registered tokens.
func (a *StaticAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Authenticate implements gateway.Authenticator. Every entry is compared so
// the lookup time does not depend on which token matched.
func (a *StaticAuthenticator) Authenticate(_ context.Context, token string) (gateway.Identity, error) {
	if err := ParseToken(token); err != nil {
		return gateway.Identity{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	var (
		found bool
		id    gateway.Identity
	)
	for _, e := range a.entries {
		if ValidateToken(e.token, token) && !found {
			found = true
			id = e.identity
		}
	}
	if !found {
		return gateway.Identity{}, ErrUnknownToken
	}
	return id, nil
}

var _ gateway.Authenticator = (*StaticAuthenticator)(nil)
