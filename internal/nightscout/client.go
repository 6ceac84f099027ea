// Package nightscout pulls CGM history and treatments from a Nightscout site
// so they can seed a patient record for the twin.
package nightscout

import (
	"context"
	"crypto/sha1" //nolint:gosec // Nightscout hashes API-SECRET with SHA1
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mrcode/glucose-twin/internal/models"
)

// Client talks to the Nightscout v1 REST API
type Client struct {
	baseURL    string
	apiSecret  string
	apiToken   string
	useToken   bool
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new Nightscout client
func NewClient(baseURL, apiSecret, apiToken string, useToken bool) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiSecret: apiSecret,
		apiToken:  apiToken,
		useToken:  useToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// hashSecret returns the hex SHA1 of the API secret
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec // Required for Nightscout API
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *Client) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	if c.useToken && c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	} else if c.apiSecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.apiSecret))
	}
	return req, nil
}

// get performs a GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, what string, out any) error {
	req, err := c.buildRequest(ctx, endpoint, params)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", what, err)
	}
	return nil
}

// GetStatus retrieves the server status
func (c *Client) GetStatus(ctx context.Context) (*models.ServerStatus, error) {
	var status models.ServerStatus
	if err := c.get(ctx, "/api/v1/status", nil, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TestConnection checks that the site answers with credentials accepted
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.GetStatus(ctx)
	return err
}

// GetCurrentEntry retrieves the newest reading. The endpoint answers with
// either an object or a one-element array depending on the server version.
func (c *Client) GetCurrentEntry(ctx context.Context) (*models.GlucoseEntry, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/api/v1/entries/current", url.Values{"count": {"1"}}, "entry", &raw); err != nil {
		return nil, err
	}

	var entry models.GlucoseEntry
	if err := json.Unmarshal(raw, &entry); err == nil {
		return &entry, nil
	}
	var entries []models.GlucoseEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries returned")
	}
	return &entries[0], nil
}

// GetEntries retrieves SGV entries in [from, to]. Zero bounds and count are omitted.
func (c *Client) GetEntries(ctx context.Context, from, to time.Time, count int) ([]models.GlucoseEntry, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("find[date][$gte]", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		params.Set("find[date][$lte]", strconv.FormatInt(to.UnixMilli(), 10))
	}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var entries []models.GlucoseEntry
	if err := c.get(ctx, "/api/v1/entries/sgv", params, "entries", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntriesHours retrieves the entries of the last hours. A CGM reports every
// five minutes, so the count is sized to hold the whole window.
func (c *Client) GetEntriesHours(ctx context.Context, hours int) ([]models.GlucoseEntry, error) {
	from := c.now().Add(-time.Duration(hours) * time.Hour)
	return c.GetEntries(ctx, from, time.Time{}, hours*12+12)
}

// GetTreatments retrieves care-portal treatments created in [from, to]
func (c *Client) GetTreatments(ctx context.Context, from, to time.Time, count int) ([]models.Treatment, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("find[created_at][$gte]", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("find[created_at][$lte]", to.UTC().Format(time.RFC3339))
	}
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var treatments []models.Treatment
	if err := c.get(ctx, "/api/v1/treatments", params, "treatments", &treatments); err != nil {
		return nil, err
	}
	return treatments, nil
}

// GetTreatmentsHours retrieves the treatments of the last hours
func (c *Client) GetTreatmentsHours(ctx context.Context, hours int) ([]models.Treatment, error) {
	from := c.now().Add(-time.Duration(hours) * time.Hour)
	return c.GetTreatments(ctx, from, time.Time{}, 0)
}
