package ckv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidateRequiresAnAddress(t *testing.T) {
	cfg := Config{}
	err := cfg.validate()
	require.Error(t, err)

	kind, ok := AsKind(err, KindConfiguration)
	require.True(t, ok)
	require.Equal(t, KindConfiguration, kind.Kind)
}

func TestConfigValidateRejectsBadReconnectStrategy(t *testing.T) {
	cfg := Config{
		Addresses:         []Address{{Host: "localhost", Port: 6379}},
		ReconnectStrategy: ReconnectStrategy{Factor: -1},
	}
	require.Error(t, cfg.validate())

	cfg.ReconnectStrategy = ReconnectStrategy{ExponentBase: 0.5}
	require.Error(t, cfg.validate())
}

func TestConfigWithDefaultsFillsInUnsetFields(t *testing.T) {
	cfg := Config{Addresses: []Address{{Host: "localhost"}}}
	require.NoError(t, cfg.validate())

	resolved := cfg.withDefaults()
	require.Equal(t, DefaultRequestTimeout, resolved.RequestTimeout)
	require.NotZero(t, resolved.ReconnectStrategy)
	require.NotNil(t, resolved.Logger)
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Addresses:      []Address{{Host: "localhost"}},
		RequestTimeout: 5 * time.Second,
	}
	resolved := cfg.withDefaults()
	require.Equal(t, 5*time.Second, resolved.RequestTimeout)
}

func TestAddressStringDefaultsPort(t *testing.T) {
	require.Equal(t, "localhost:6379", Address{Host: "localhost"}.String())
	require.Equal(t, "localhost:7000", Address{Host: "localhost", Port: 7000}.String())
}

func TestSeedAddressesRendersEveryEntry(t *testing.T) {
	cfg := Config{Addresses: []Address{{Host: "a", Port: 1}, {Host: "b", Port: 2}}}
	require.Equal(t, []string{"a:1", "b:2"}, cfg.seedAddresses())
}
