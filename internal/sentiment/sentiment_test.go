package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

func TestLexiconScorer(t *testing.T) {
	s := NewLexiconScorer()
	ctx := context.Background()

	tests := []struct {
		text  string
		check func(t *testing.T, v float64)
	}{
		{"Excellent battery, love it", func(t *testing.T, v float64) { assert.Equal(t, 1.0, v) }},
		{"Terrible. Broken after a week", func(t *testing.T, v float64) { assert.Equal(t, -1.0, v) }},
		{"Not good", func(t *testing.T, v float64) { assert.Less(t, v, 0.0) }},
		{"Great screen but slow charging", func(t *testing.T, v float64) { assert.InDelta(t, 0.2, v, 1e-9) }},
		{"It arrived on Tuesday", func(t *testing.T, v float64) { assert.Equal(t, 0.0, v) }},
		{"", func(t *testing.T, v float64) { assert.Equal(t, 0.0, v) }},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			v, err := s.Score(ctx, tc.text)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
			tc.check(t, v)
		})
	}
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req.Text {
		case "overload":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
		case "huge":
			_, _ = w.Write([]byte(`{"score": 3.5}`))
		default:
			_, _ = w.Write([]byte(`{"score": 0.4}`))
		}
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second)
	ctx := context.Background()

	v, err := s.Score(ctx, "fine")
	require.NoError(t, err)
	assert.Equal(t, 0.4, v)

	v, err = s.Score(ctx, "huge")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = s.Score(ctx, "overload")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	_, err = s.Score(ctx, "bad")
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}
