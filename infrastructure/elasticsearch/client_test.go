package elasticsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraconfig "github.com/jonesrussell/north-cloud/sniper/infrastructure/config"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"http://es:9200", "http://es:9200"},
		{"https://es:9200", "https://es:9200"},
		{"es:9200", "http://es:9200"},
		{"", "http://localhost:9200"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeURL(tt.in))
	}
}

func TestNewClient_PingsCluster(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), infraconfig.ElasticsearchConfig{URL: srv.URL, MaxRetries: 1}, logger.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewClient_FailsOnErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(context.Background(), infraconfig.ElasticsearchConfig{URL: srv.URL, MaxRetries: 1}, logger.NewNop())
	require.Error(t, err)
}
