// Package lingq is a minimal client for the LingQ vocabulary API. It
// covers exactly the card surface the sync engine needs: paginated
// listing, search, create, patch, and the v2 review endpoint.
//
// The API token is held privately and never logged; request URLs are
// redacted before they reach the logger in case a token ever appears in
// a query parameter.
package lingq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"lingsync/internal/logging"
	"lingsync/internal/model"
)

// BaseURL is the production LingQ API root.
const BaseURL = "https://www.lingq.com/api"

const (
	defaultTimeout    = 30 * time.Second
	defaultPageSize   = 200
	max5xxRetries     = 3
	max429Retries     = 5
	retryAfterDefault = 5 * time.Second
	// retryAfterBuffer is added on top of whatever Retry-After says.
	retryAfterBuffer = 3 * time.Second
	bodyPreviewLimit = 500
)

// APIError is returned for non-2xx responses that survive the retry
// policy. Body holds at most the first 500 characters of the response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("lingq api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("lingq api: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the LingQ API for a single account. Safe for
// concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a client authenticated with the given API token.
// The default rate limit of 5 req/s stays well under LingQ throttling.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    BaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HintCreate is the payload shape for a new hint.
type HintCreate struct {
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

// ListFilter narrows ListCards results server-side.
type ListFilter struct {
	// Statuses restricts cards to the given status values.
	Statuses []int
	// SRSDue filters by SRS due state when non-nil.
	SRSDue *bool
	// PageSize overrides the default page size of 200.
	PageSize int
}

type cardPage struct {
	Results []model.Card `json:"results"`
	Next    string       `json:"next"`
}

// ListCards fetches every card for the language, following pagination
// until the server reports no next page.
func (c *Client) ListCards(ctx context.Context, language string, filter ListFilter) ([]model.Card, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	params := url.Values{}
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(pageSize))
	for _, s := range filter.Statuses {
		params.Add("status", strconv.Itoa(s))
	}
	if filter.SRSDue != nil {
		if *filter.SRSDue {
			params.Set("srs_due", "1")
		} else {
			params.Set("srs_due", "0")
		}
	}

	return c.collectPages(ctx, c.makeURL("/v3/"+language+"/cards/", params))
}

// SearchCards fetches all cards matching the search term.
func (c *Client) SearchCards(ctx context.Context, language, term string) ([]model.Card, error) {
	params := url.Values{}
	params.Set("page", "1")
	params.Set("page_size", strconv.Itoa(defaultPageSize))
	params.Set("search", term)

	return c.collectPages(ctx, c.makeURL("/v3/"+language+"/cards/", params))
}

func (c *Client) collectPages(ctx context.Context, u string) ([]model.Card, error) {
	var out []model.Card
	for u != "" {
		var page cardPage
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Results...)
		u = page.Next
	}
	return out, nil
}

// CreateCard creates a new card. The fragment, when non-blank, is only
// sent on create: LingQ does not reliably honor it on PATCH.
func (c *Client) CreateCard(ctx context.Context, language, term string, hints []HintCreate, fragment string) (*model.Card, error) {
	body := map[string]any{"term": term, "hints": hints}
	if frag := strings.TrimSpace(fragment); frag != "" {
		body["fragment"] = frag
	}

	var card model.Card
	u := c.makeURL("/v3/"+language+"/cards/", nil)
	if err := c.doJSON(ctx, http.MethodPost, u, body, &card); err != nil {
		return nil, fmt.Errorf("create card %q: %w", term, err)
	}
	return &card, nil
}

// CardPatch holds the mutable card attributes. Nil fields are omitted
// from the request.
type CardPatch struct {
	Status         *int         `json:"status,omitempty"`
	ExtendedStatus *int         `json:"extended_status,omitempty"`
	Hints          []HintCreate `json:"hints,omitempty"`
}

// PatchCard partially updates a card.
func (c *Client) PatchCard(ctx context.Context, language string, pk int, patch CardPatch) (*model.Card, error) {
	var card model.Card
	u := c.makeURL(fmt.Sprintf("/v3/%s/cards/%d/", language, pk), nil)
	if err := c.doJSON(ctx, http.MethodPatch, u, patch, &card); err != nil {
		return nil, fmt.Errorf("patch card %d: %w", pk, err)
	}
	return &card, nil
}

// ReviewCard records a review event against the v2 endpoint.
func (c *Client) ReviewCard(ctx context.Context, language string, pk int) error {
	u := c.makeURL(fmt.Sprintf("/v2/%s/cards/%d/review/", language, pk), nil)
	if err := c.doJSON(ctx, http.MethodPost, u, map[string]any{}, nil); err != nil {
		return fmt.Errorf("review card %d: %w", pk, err)
	}
	return nil
}

func (c *Client) makeURL(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// doJSON performs one logical request with the retry policy: up to 3
// exponential-backoff retries on 5xx and network errors, up to 5
// Retry-After-driven retries on 429. Anything else fails immediately.
func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	attempt5xx := 0
	attempt429 := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		status, raw, headers, err := c.doOnce(ctx, method, u, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt5xx < max5xxRetries {
				delay := time.Duration(1<<attempt5xx) * time.Second
				attempt5xx++
				if serr := c.sleep(ctx, delay); serr != nil {
					return serr
				}
				continue
			}
			return fmt.Errorf("lingq api: %w", err)
		}

		switch {
		case status == http.StatusTooManyRequests && attempt429 < max429Retries:
			attempt429++
			if serr := c.sleep(ctx, retryAfterDelay(headers.Get("Retry-After"))); serr != nil {
				return serr
			}
			continue

		case status >= 500 && attempt5xx < max5xxRetries:
			delay := time.Duration(1<<attempt5xx) * time.Second
			attempt5xx++
			if serr := c.sleep(ctx, delay); serr != nil {
				return serr
			}
			continue

		case status < 200 || status >= 300:
			return &APIError{StatusCode: status, Body: preview(raw)}
		}

		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func (c *Client) doOnce(ctx context.Context, method, u string, payload []byte) (int, []byte, http.Header, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lingsync")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Debug("lingq request",
		logging.Operation(method),
		slog.String("url", RedactURL(u)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	logging.Debug("lingq response",
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID(resp.Header)),
	)

	return resp.StatusCode, raw, resp.Header, nil
}

// retryAfterDelay parses a Retry-After value in seconds, falling back to
// 5s, and pads the result so we land comfortably past the window.
func retryAfterDelay(header string) time.Duration {
	delay := retryAfterDefault
	if s := strings.TrimSpace(header); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	return delay + retryAfterBuffer
}

func requestID(h http.Header) string {
	for _, key := range []string{"X-Request-Id", "X-Request-ID", "X-Requestid"} {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return "-"
}

func preview(raw []byte) string {
	s := string(raw)
	if len(s) > bodyPreviewLimit {
		return s[:bodyPreviewLimit]
	}
	return s
}

// RedactURL replaces the values of credential-bearing query parameters
// so a URL is always safe to log.
func RedactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := parsed.Query()
	changed := false
	for key := range q {
		switch strings.ToLower(key) {
		case "token", "api_token", "authorization":
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}
