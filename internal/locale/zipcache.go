package locale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

const zipCacheTTL = 24 * time.Hour

// ZipCache maps Italian postal codes to province codes. The mapping lives in a
// Google Sheet and is cached in-process for 24 hours. Concurrent refreshers may
// double-fetch; last write wins.
type ZipCache struct {
	sheetID    string
	sheetRange string
	apiKey     string
	httpClient *http.Client

	mu        sync.RWMutex
	mapping   map[string]string
	fetchedAt time.Time
}

// NewZipCache creates a ZipCache backed by the given sheet. An empty sheetID
// disables the ZIP strategy entirely.
func NewZipCache(sheetID, sheetRange, apiKey string) *ZipCache {
	if sheetRange == "" {
		sheetRange = "A:B"
	}
	return &ZipCache{
		sheetID:    sheetID,
		sheetRange: sheetRange,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Lookup resolves a 5-digit ZIP to a province code, refreshing the cached
// sheet when stale.
func (c *ZipCache) Lookup(ctx context.Context, zip string) (string, bool) {
	if c.sheetID == "" {
		return "", false
	}

	c.mu.RLock()
	fresh := c.mapping != nil && time.Since(c.fetchedAt) < zipCacheTTL
	prov, ok := c.mapping[zip]
	c.mu.RUnlock()

	if fresh {
		return prov, ok
	}

	if err := c.refresh(ctx); err != nil {
		logger.Base().Warn("zip sheet refresh failed, serving stale mapping", zap.Error(err))
		c.mu.RLock()
		prov, ok = c.mapping[zip]
		c.mu.RUnlock()
		return prov, ok
	}

	c.mu.RLock()
	prov, ok = c.mapping[zip]
	c.mu.RUnlock()
	return prov, ok
}

type sheetValuesResponse struct {
	Values [][]string `json:"values"`
}

func (c *ZipCache) refresh(ctx context.Context) error {
	endpoint := fmt.Sprintf("https://sheets.googleapis.com/v4/spreadsheets/%s/values/%s?key=%s",
		url.PathEscape(c.sheetID), url.PathEscape(c.sheetRange), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch zip sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zip sheet returned status %d", resp.StatusCode)
	}

	var body sheetValuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode zip sheet: %w", err)
	}

	mapping := make(map[string]string, len(body.Values))
	for _, row := range body.Values {
		if len(row) < 2 {
			continue
		}
		zip := strings.TrimSpace(row[0])
		prov := strings.ToUpper(strings.TrimSpace(row[1]))
		if len(zip) == 5 && provinceCodes[prov] {
			mapping[zip] = prov
		}
	}

	c.mu.Lock()
	c.mapping = mapping
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	logger.Base().Info("zip mapping refreshed", zap.Int("entries", len(mapping)))
	return nil
}
