package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingkit/pkg/environment"
)

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := environment.WithContext(context.Background(), string(environment.Staging))
	assert.Equal(t, "staging", environment.FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, environment.FromContext(context.Background()))
	assert.Empty(t, environment.FromContext(nil)) //nolint:staticcheck
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  string
		prod bool
		dev  bool
		stg  bool
	}{
		{name: "production", env: "production", prod: true},
		{name: "prod alias", env: "prod", prod: true},
		{name: "development", env: "development", dev: true},
		{name: "dev alias", env: "dev", dev: true},
		{name: "staging", env: "staging", stg: true},
		{name: "stage alias", env: "stage", stg: true},
		{name: "unknown", env: "qa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := environment.WithContext(context.Background(), tt.env)
			assert.Equal(t, tt.prod, environment.IsProduction(ctx))
			assert.Equal(t, tt.dev, environment.IsDevelopment(ctx))
			assert.Equal(t, tt.stg, environment.IsStaging(ctx))
		})
	}
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := environment.LoggerExtractor()

	attr, ok := extract(environment.WithContext(context.Background(), "production"))
	assert.True(t, ok)
	assert.Equal(t, "env", attr.Key)
	assert.Equal(t, "production", attr.Value.String())

	_, ok = extract(context.Background())
	assert.False(t, ok)
}
