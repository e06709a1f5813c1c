package federation

import (
	"context"
	"net/http"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// KeyCache caches external providers' signing key sets by issuer. It is
// read-mostly: many concurrent exchanges read, a cache miss is the only
// writer. A miss racing with a populate is harmless, last writer wins.
type KeyCache struct {
	base   context.Context
	client *http.Client

	mu   sync.RWMutex
	sets map[string]gooidc.KeySet
}

// NewKeyCache creates a cache fetching JWKS documents with client. base
// bounds the lifetime of background key refreshes.
func NewKeyCache(base context.Context, client *http.Client) *KeyCache {
	return &KeyCache{
		base:   base,
		client: client,
		sets:   make(map[string]gooidc.KeySet),
	}
}

// KeySet returns the key set for issuer, creating a remote set over
// jwksURI on first use.
func (c *KeyCache) KeySet(issuer, jwksURI string) gooidc.KeySet {
	c.mu.RLock()
	set, ok := c.sets[issuer]
	c.mu.RUnlock()
	if ok {
		return set
	}
	set = gooidc.NewRemoteKeySet(gooidc.ClientContext(c.base, c.client), jwksURI)
	c.mu.Lock()
	c.sets[issuer] = set
	c.mu.Unlock()
	return set
}
