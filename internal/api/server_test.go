package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/config"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Run(ctx, http.NotFoundHandler(), config.ServerConfig{
			Host:             "127.0.0.1",
			Port:             0,
			GracefulShutdown: time.Second,
		}, observability.NopLogger())
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server did not stop")
	}
}
