package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iot-for-tillgenglighet/home-admin-dashboard/internal/pkg/domain"
)

type tokenContextKey struct{}

//WithToken stores the caller's bearer token in ctx. Requests made with that context carry it
//instead of the client's service token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

//TokenFromContext returns the bearer token stored by WithToken, if any
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

//LinkRequest pairs a new device into a space
type LinkRequest struct {
	SerialNumber string `json:"serial_number"`
	SpaceID      string `json:"space_id"`
	GroupID      string `json:"group_id,omitempty"`
	Name         string `json:"name,omitempty"`
}

//MoveRequest reassigns a device to another space and optionally renames it
type MoveRequest struct {
	SpaceID string `json:"space_id"`
	Name    string `json:"name,omitempty"`
}

//LockResult is what the platform answers to a lock or unlock call
type LockResult struct {
	LockStatus domain.LockStatus `json:"lock_status"`
	LockedAt   *time.Time        `json:"locked_at"`
}

//Client talks to the remote home automation REST platform
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

//NewClient creates a client. token is used when a request context carries no token of its own.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Houses(ctx context.Context, groupID string) ([]domain.House, error) {
	houses := []domain.House{}
	err := c.do(ctx, http.MethodGet, "/api/houses/group/"+url.PathEscape(groupID), nil, &houses)
	if err != nil {
		return nil, fmt.Errorf("fetching houses of group %s: %w", groupID, err)
	}
	return houses, nil
}

func (c *Client) Spaces(ctx context.Context, houseID string) ([]domain.Space, error) {
	spaces := []domain.Space{}
	err := c.do(ctx, http.MethodGet, "/api/spaces/house/"+url.PathEscape(houseID), nil, &spaces)
	if err != nil {
		return nil, fmt.Errorf("fetching spaces of house %s: %w", houseID, err)
	}
	return spaces, nil
}

func (c *Client) Devices(ctx context.Context, spaceID, groupID string) ([]domain.DeviceRecord, error) {
	path := "/api/devices/space/" + url.PathEscape(spaceID) + withGroup(groupID)

	devices := []domain.DeviceRecord{}
	if err := c.do(ctx, http.MethodGet, path, nil, &devices); err != nil {
		return nil, fmt.Errorf("fetching devices of space %s: %w", spaceID, err)
	}
	return devices, nil
}

func (c *Client) Device(ctx context.Context, serialNumber string) (*domain.DeviceRecord, error) {
	device := &domain.DeviceRecord{}
	if err := c.do(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(serialNumber), nil, device); err != nil {
		return nil, fmt.Errorf("fetching device %s: %w", serialNumber, err)
	}
	return device, nil
}

func (c *Client) MoveDevice(ctx context.Context, deviceID string, req MoveRequest) error {
	if err := c.do(ctx, http.MethodPut, "/api/devices/"+url.PathEscape(deviceID)+"/space", req, nil); err != nil {
		return fmt.Errorf("moving device %s: %w", deviceID, err)
	}
	return nil
}

func (c *Client) LinkDevice(ctx context.Context, req LinkRequest) (*domain.DeviceRecord, error) {
	device := &domain.DeviceRecord{}
	if err := c.do(ctx, http.MethodPost, "/api/devices/link", req, device); err != nil {
		return nil, fmt.Errorf("linking device %s: %w", req.SerialNumber, err)
	}
	return device, nil
}

func (c *Client) Lock(ctx context.Context, deviceID string) (*LockResult, error) {
	return c.lockCall(ctx, deviceID, "lock")
}

func (c *Client) Unlock(ctx context.Context, deviceID string) (*LockResult, error) {
	return c.lockCall(ctx, deviceID, "unlock")
}

func (c *Client) lockCall(ctx context.Context, deviceID, action string) (*LockResult, error) {
	result := &LockResult{}
	if err := c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(deviceID)+"/"+action, nil, result); err != nil {
		return nil, fmt.Errorf("%s device %s: %w", action, deviceID, err)
	}
	return result, nil
}

func (c *Client) SetPower(ctx context.Context, deviceID string, on bool) error {
	body := map[string]bool{"power_status": on}
	if err := c.do(ctx, http.MethodPut, "/api/devices/"+url.PathEscape(deviceID)+"/power", body, nil); err != nil {
		return fmt.Errorf("switching power of device %s: %w", deviceID, err)
	}
	return nil
}

func (c *Client) DeleteDevice(ctx context.Context, deviceID, groupID string) error {
	path := "/api/devices/" + url.PathEscape(deviceID) + withGroup(groupID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting device %s: %w", deviceID, err)
	}
	return nil
}

func withGroup(groupID string) string {
	if groupID == "" {
		return ""
	}
	return "?groupId=" + url.QueryEscape(groupID)
}

func (c *Client) do(ctx context.Context, method, path string, body, into interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	token := c.token
	if t, ok := TokenFromContext(ctx); ok {
		token = t
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %s", ErrTransport, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: messageFrom(respBody)}
	}

	if into == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	return decodeBody(respBody, into)
}

//decodeBody accepts both bare payloads and payloads wrapped in a "data" envelope
func decodeBody(body []byte, into interface{}) error {
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
			trimmed = envelope.Data
		}
	}

	if err := json.Unmarshal(trimmed, into); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

func messageFrom(body []byte) string {
	payload := struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}{}

	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
