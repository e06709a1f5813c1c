package federation_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/meridianid/go-sts/federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCacheReturnsSameSetPerIssuer(t *testing.T) {
	cache := federation.NewKeyCache(context.Background(), http.DefaultClient)

	first := cache.KeySet("https://idp.example.com", "https://idp.example.com/keys")
	second := cache.KeySet("https://idp.example.com", "https://idp.example.com/keys")
	require.NotNil(t, first)
	assert.Same(t, first, second, "a hit must not create a new remote set")

	other := cache.KeySet("https://other.example.com", "https://other.example.com/keys")
	assert.NotSame(t, first, other)
}
