// Package elasticsearch opens a verified go-elasticsearch client.
package elasticsearch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	infraconfig "github.com/jonesrussell/north-cloud/sniper/infrastructure/config"
	infrahttp "github.com/jonesrussell/north-cloud/sniper/infrastructure/http"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/retry"
)

const pingTimeout = 5 * time.Second

// NewClient builds a client for cfg.URL and pings it with backoff until the
// cluster answers or the retries run out.
func NewClient(ctx context.Context, cfg infraconfig.ElasticsearchConfig, log logger.Logger) (*es.Client, error) {
	cfg.SetDefaults()
	url := normalizeURL(cfg.URL)

	client, err := es.NewClient(es.Config{
		Addresses:  []string{url},
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
		Transport:  infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout}).Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	backoff := retry.Config{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		IsRetryable:  func(error) bool { return true },
	}
	if err = retry.Retry(ctx, backoff, func() error { return ping(ctx, client) }); err != nil {
		return nil, fmt.Errorf("connect to elasticsearch %s: %w", url, err)
	}

	log.Info("Elasticsearch connection established", logger.String("url", url))
	return client, nil
}

func normalizeURL(url string) string {
	switch {
	case url == "":
		return "http://localhost:9200"
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return url
	default:
		return "http://" + url
	}
}

func ping(ctx context.Context, client *es.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("ping returned %s: %s", res.Status(), body)
	}
	return nil
}
