package environment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillmind/companionkit/pkg/environment"
)

func TestParse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, environment.Production, environment.Parse("production"))
	assert.Equal(t, environment.Production, environment.Parse("prod"))
	assert.Equal(t, environment.Staging, environment.Parse("stage"))
	assert.Equal(t, environment.Development, environment.Parse("dev"))
	assert.Equal(t, environment.Development, environment.Parse("anything else"))
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := environment.WithContext(context.Background(), environment.Production)
	assert.Equal(t, environment.Production, environment.FromContext(ctx))
	assert.True(t, environment.IsProduction(ctx))
	assert.False(t, environment.IsDevelopment(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, environment.FromContext(context.Background()))
	assert.Empty(t, environment.FromContext(nil))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var seen environment.Environment
	h := environment.Middleware(environment.Staging)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = environment.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, environment.Staging, seen)
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	ex := environment.LoggerExtractor()

	attr, ok := ex(environment.WithContext(context.Background(), environment.Production))
	require.True(t, ok)
	assert.Equal(t, "env", attr.Key)
	assert.Equal(t, "production", attr.Value.String())

	_, ok = ex(context.Background())
	assert.False(t, ok)
}
