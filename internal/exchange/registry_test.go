package exchange

import (
	"testing"

	"candlecache/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCoversEveryExchange(t *testing.T) {
	r := NewRegistry(nil)
	for _, ex := range market.Exchanges() {
		c, err := r.Get(ex)
		require.NoError(t, err, ex)
		assert.NotNil(t, c, ex)
	}
}

func TestRegistryUnknownExchange(t *testing.T) {
	_, err := NewRegistry(nil).Get(market.Exchange("mtgox"))
	assert.ErrorIs(t, err, market.ErrUnknownExchange)
}

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewStaticRegistry(nil)
	k := NewKraken(Options{})
	r.Register(market.Kraken, k)
	got, err := r.Get(market.Kraken)
	require.NoError(t, err)
	assert.Same(t, k, got)
}
