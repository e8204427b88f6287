// Package inventory talks to the asset-inventory REST service and to the
// tracker's command API. The inventory service has grown several response
// shapes over time, so record decoding is deliberately forgiving: it unwraps
// whichever container the server used and resolves fields through priority
// lists instead of a fixed schema.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/types"
)

// Client is an HTTP client for the inventory and command APIs. Requests are
// retried with exponential backoff and jitter on network failures and 5xx
// responses.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        *logrus.Entry
	authToken     string
	retryAttempts int
	retryDelay    time.Duration
}

// NewClient creates a client for the given API base URL
func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:        logger.WithField("component", "inventory"),
		retryAttempts: 3,
		retryDelay:    time.Second,
	}
}

// SetAuthToken sets the bearer token attached to subsequent requests
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// FetchMovementRecords retrieves the movement history from the inventory
// service, tolerating all of its known response shapes.
func (c *Client) FetchMovementRecords(ctx context.Context) ([]types.MovementRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/movements", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch movement records: %w", err)
	}
	records, err := DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode movement records: %w", err)
	}
	c.logger.WithField("count", len(records)).Debug("Fetched movement records")
	return records, nil
}

// FetchCatalog retrieves the product catalog
func (c *Client) FetchCatalog(ctx context.Context) ([]types.CatalogItem, error) {
	body, err := c.do(ctx, http.MethodGet, "/inventory", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	container, err := unwrapList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	items := make([]types.CatalogItem, 0, len(container))
	for _, raw := range container {
		var item types.CatalogItem
		if err := json.Unmarshal(raw, &item); err != nil {
			c.logger.WithError(err).Warn("Skipping malformed catalog entry")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Reboot asks the tracker to restart itself. The confirmation flag is
// mandatory; the server rejects the request without it.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/system/reboot?confirm=true", nil)
	if err != nil {
		return fmt.Errorf("reboot request failed: %w", err)
	}
	c.logger.Info("Reboot requested")
	return nil
}

// ClearHistory deletes the tracker's movement history
func (c *Client) ClearHistory(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/records?confirm=true", nil)
	if err != nil {
		return fmt.Errorf("clear history request failed: %w", err)
	}
	c.logger.Info("Movement history cleared")
	return nil
}

// do performs one API request with retries
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			delay += time.Duration(rand.Int63n(int64(delay) / 2))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"path":    path,
			}).Debug("Retrying request")
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request rejected with %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retryAttempts+1, lastErr)
}

// Container keys the inventory service has used for list responses, tried in
// order before falling back to the first array-valued field.
var containerKeys = []string{"data", "records", "inventory", "items", "assets"}

// unwrapList extracts the list payload from a response that is either a bare
// array or an object wrapping one.
func unwrapList(body []byte) ([]json.RawMessage, error) {
	var direct []json.RawMessage
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("response is neither array nor object: %w", err)
	}

	for _, key := range containerKeys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}

	for _, raw := range wrapper {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("no list payload found in response")
}

// Field priority lists for flat record shapes. The inventory service and the
// tracker have both renamed fields over time; earlier names win.
var (
	tagKeys       = []string{"tagId", "tagID", "tag_id", "rfid_tag", "rfidTag", "epc"}
	nameKeys      = []string{"name", "asset_name", "assetName", "product_name"}
	categoryKeys  = []string{"category", "asset_category"}
	directionKeys = []string{"movementDirection", "movement_direction", "direction", "dir", "movement_type"}
	dateKeys      = []string{"moveDate", "move_date", "dateTime", "read_date", "readDate", "date", "timestamp", "purchaseDate", "created_at"}
	roomKeys      = []string{"roomName", "room", "room_name"}
	buildingKeys  = []string{"buildingName", "building", "building_name", "location"}
)

// DecodeRecords parses an inventory movement response of any known shape
// into movement records. Nested snapshot shapes win over flat fields; a
// record that names no asset gets the placeholder name.
func DecodeRecords(body []byte) ([]types.MovementRecord, error) {
	list, err := unwrapList(body)
	if err != nil {
		return nil, err
	}

	records := make([]types.MovementRecord, 0, len(list))
	for _, raw := range list {
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		records = append(records, resolveRecord(fields))
	}
	return records, nil
}

func resolveRecord(fields map[string]interface{}) types.MovementRecord {
	rec := types.MovementRecord{
		ID:        stringField(fields, "id", "_id"),
		RFIDTag:   stringField(fields, tagKeys...),
		AssetName: stringField(fields, nameKeys...),
		Category:  stringField(fields, categoryKeys...),
		Direction: stringField(fields, directionKeys...),
		ReadDate:  stringField(fields, dateKeys...),
		Room:      stringField(fields, roomKeys...),
		Building:  stringField(fields, buildingKeys...),
	}

	if snap, ok := fields["assetSnapshot"].(map[string]interface{}); ok {
		if v := stringField(snap, "name"); v != "" {
			rec.AssetName = v
		}
		if v := stringField(snap, "category"); v != "" {
			rec.Category = v
		}
		if v := stringField(snap, "tagId", "rfid_tag"); v != "" {
			rec.RFIDTag = v
		}
	}
	if snap, ok := fields["readerSnapshot"].(map[string]interface{}); ok {
		if v := stringField(snap, "macAddress", "mac_address", "mac"); v != "" {
			rec.ReaderMAC = v
		}
		if v := stringField(snap, "roomName", "room_name"); v != "" {
			rec.Room = v
		}
		if v := stringField(snap, "buildingName", "building_name"); v != "" {
			rec.Building = v
		}
	}

	rec.Direction = types.NormalizeDirection(rec.Direction)
	if rec.AssetName == "" {
		rec.AssetName = "Unknown Asset"
	}
	return rec
}

// stringField returns the first present key rendered as a string. Numeric
// identifiers are rendered without an exponent.
func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return ""
}
