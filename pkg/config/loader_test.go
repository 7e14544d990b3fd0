package config_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

type workerConfig struct {
	PollInterval string `env:"TEST_WORKER_POLL" envDefault:"5s"`
	Parallel     int    `env:"TEST_WORKER_PARALLEL" envDefault:"4"`
	Durable      bool   `env:"TEST_WORKER_DURABLE" envDefault:"true"`
}

type gatewayConfig struct {
	APIKey string `env:"TEST_GATEWAY_API_KEY,required"`
}

type cachedConfig struct {
	Value string `env:"TEST_CACHED_VALUE" envDefault:"initial"`
}

type firstConfig struct {
	Value string `env:"TEST_FIRST_VALUE" envDefault:"first"`
}

type secondConfig struct {
	Value string `env:"TEST_SECOND_VALUE" envDefault:"second"`
}

func TestLoad(t *testing.T) {
	t.Run("values from environment", func(t *testing.T) {
		t.Setenv("TEST_WORKER_POLL", "10s")
		t.Setenv("TEST_WORKER_PARALLEL", "8")
		t.Setenv("TEST_WORKER_DURABLE", "false")

		var cfg workerConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "10s", cfg.PollInterval)
		assert.Equal(t, 8, cfg.Parallel)
		assert.False(t, cfg.Durable)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg gatewayConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrParsingConfig))
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[workerConfig](nil)
		assert.ErrorIs(t, err, config.ErrNilPointer)
	})
}

func TestLoad_Caching(t *testing.T) {
	t.Setenv("TEST_CACHED_VALUE", "loaded")

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	require.Equal(t, "loaded", first.Value)

	// Later environment changes must not leak into the cached copy.
	t.Setenv("TEST_CACHED_VALUE", "changed")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "loaded", second.Value)
}

func TestLoad_DistinctTypes(t *testing.T) {
	t.Setenv("TEST_FIRST_VALUE", "one")
	t.Setenv("TEST_SECOND_VALUE", "two")

	var a firstConfig
	var b secondConfig
	require.NoError(t, config.Load(&a))
	require.NoError(t, config.Load(&b))

	assert.Equal(t, "one", a.Value)
	assert.Equal(t, "two", b.Value)
}

func TestLoadEnv_MissingFile(t *testing.T) {
	err := config.LoadEnv("testdata/does-not-exist.env")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	type requiredConfig struct {
		Value string `env:"TEST_MUSTLOAD_REQUIRED,required"`
	}

	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}
