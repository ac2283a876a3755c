package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stock-count-alerts/internal/credential"
	"stock-count-alerts/internal/extractor"
)

const scrapePath = "/v1/scrape"

// Options parameterise the scrape service client.
type Options struct {
	BaseURL    string
	RenderWait time.Duration
	Timeout    time.Duration
	UserAgent  string
}

// Client performs single scrape calls against the external rendering service
// and extracts the item count from the returned HTML.
type Client struct {
	opts      Options
	extractor *extractor.Extractor
	client    *http.Client
	logger    zerolog.Logger
	baseURL   string
	now       func() time.Time
}

// NewClient constructs a scrape client.
func NewClient(opts Options, ext *extractor.Extractor, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.RenderWait <= 0 {
		opts.RenderWait = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}

	return &Client{
		opts:      opts,
		extractor: ext,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "scraper").Logger(),
		baseURL:   baseURL,
		now:       time.Now,
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
	WaitFor int64    `json:"waitFor,omitempty"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		HTML string `json:"html"`
	} `json:"data"`
	Error string `json:"error"`
}

// FetchCount performs one fetch and extracts the count. Failures are
// classified so the caller can decide whether to rotate credentials.
func (c *Client) FetchCount(ctx context.Context, targetURL, apiKey string) (int, error) {
	if targetURL == "" {
		return 0, &Error{Kind: credential.KindTarget, Err: errors.New("target url not configured")}
	}
	if apiKey == "" {
		return 0, &Error{Kind: credential.KindCredential, Err: errors.New("empty api key")}
	}

	payload := scrapeRequest{
		URL:     cacheDefeat(targetURL, c.now()),
		Formats: []string{"html"},
		WaitFor: c.opts.RenderWait.Milliseconds(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &Error{Kind: credential.KindTarget, Err: fmt.Errorf("marshal scrape payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scrapePath, bytes.NewReader(body))
	if err != nil {
		return 0, &Error{Kind: credential.KindTarget, Err: fmt.Errorf("create scrape request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &Error{Kind: credential.Classify(0, err.Error()), Err: err}
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &Error{Kind: credential.KindTarget, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp.StatusCode, payloadBytes)
		return 0, &Error{
			Kind:   credential.Classify(resp.StatusCode, string(payloadBytes)),
			Status: resp.StatusCode,
			Err:    apiErr,
		}
	}

	var scrapeRes scrapeResponse
	if err := json.Unmarshal(payloadBytes, &scrapeRes); err != nil {
		return 0, &Error{Kind: credential.KindTarget, Err: fmt.Errorf("decode scrape response: %w", err)}
	}
	if !scrapeRes.Success {
		msg := scrapeRes.Error
		if msg == "" {
			msg = "scrape service reported failure"
		}
		return 0, &Error{Kind: credential.Classify(0, msg), Err: errors.New(msg)}
	}

	count, err := c.extractor.Extract(scrapeRes.Data.HTML)
	if err != nil {
		return 0, &Error{Kind: credential.KindTarget, Err: err}
	}

	c.logger.Debug().Str("url", targetURL).Int("count", count).Msg("scraped item count")
	return count, nil
}

// cacheDefeat appends a timestamp query parameter so intermediate caches
// cannot serve a stale rendering.
func cacheDefeat(target string, now time.Time) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := parsed.Query()
	q.Set("_ts", strconv.FormatInt(now.UnixMilli(), 10))
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

type apiErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("scrape api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("scrape api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("scrape api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("scrape api error (%d)", status)
}

var _ CountFetcher = (*Client)(nil)
