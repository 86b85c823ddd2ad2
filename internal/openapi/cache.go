// Package openapi fetches the backend's OpenAPI document and validates
// request bodies against its per-operation schemas.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
)

// ErrUnavailable is returned when the schema document cannot be fetched.
// Validation is skipped for such requests rather than blocking traffic.
var ErrUnavailable = errors.New("openapi: schema document unavailable")

// SchemaCache holds the fetched OpenAPI document for a TTL and refetches
// lazily on expiry. A refresh race between two requests is harmless: the
// last writer wins and both see a complete document.
type SchemaCache struct {
	specURL string
	ttl     time.Duration
	client  *http.Client

	mu        sync.RWMutex
	doc       []byte
	fetchedAt time.Time
}

// NewSchemaCache builds a cache for {backendURL}/openapi.json.
func NewSchemaCache(backendURL string, ttl time.Duration, client *http.Client) *SchemaCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SchemaCache{
		specURL: backendURL + "/openapi.json",
		ttl:     ttl,
		client:  client,
	}
}

// Document returns the cached document and its fetch time, refetching when
// the TTL has expired or nothing is cached yet.
func (c *SchemaCache) Document(ctx context.Context) ([]byte, time.Time, error) {
	c.mu.RLock()
	doc, fetchedAt := c.doc, c.fetchedAt
	c.mu.RUnlock()

	if doc != nil && time.Now().Before(fetchedAt.Add(c.ttl)) {
		return doc, fetchedAt, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now()
	c.mu.Lock()
	c.doc, c.fetchedAt = fresh, now
	c.mu.Unlock()

	return fresh, now, nil
}

func (c *SchemaCache) fetch(ctx context.Context) ([]byte, error) {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
	)

	var doc []byte
	err := r.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.specURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: status %d", c.specURL, resp.StatusCode)
		}
		doc, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
