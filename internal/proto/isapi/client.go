package isapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/icholy/digest"
)

// The camera requires the full ImageChannel resource on every PUT; partial
// documents are rejected with a generic device error. Every write is
// therefore a read-modify-write cycle against the raw bytes, because a
// parse-and-reserialize round trip drops the repeated xmlns declarations
// the firmware insists on.

const putStatusOK = "ok"

// DeviceInfo holds the identity block from /ISAPI/System/deviceInfo.
type DeviceInfo struct {
	Model           string
	SerialNumber    string
	FirmwareVersion string
	FirmwareBuild   string
	MACAddress      string
	DeviceName      string
}

// ExternalID is the MAC-derived registry key for the camera.
func (d DeviceInfo) ExternalID() string {
	return strings.ToLower(strings.ReplaceAll(d.MACAddress, ":", ""))
}

// PutResult is the outcome of one document submission. Device-side
// rejections are carried here, not as Go errors; only transport failures
// surface as errors.
type PutResult struct {
	Success    bool
	StatusCode int
	SubStatus  string
}

// Edit is one (path, new value) change. Batches are ordered slices, not
// maps, so edits apply in the order the caller issued them.
type Edit struct {
	Path  string
	Value string
}

type httpStatusError struct {
	status int
	body   string
}

func (e httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("camera returned status %d", e.status)
	}
	return fmt.Sprintf("camera returned status %d: %s", e.status, e.body)
}

// Client talks ISAPI to a single camera over digest-authenticated HTTP.
type Client struct {
	host       string
	baseURL    string
	channel    int
	httpClient *http.Client
}

func NewClient(host, username, password string, channel int) *Client {
	if channel <= 0 {
		channel = 1
	}
	return &Client{
		host:    host,
		baseURL: "http://" + host,
		channel: channel,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &digest.Transport{
				Username: username,
				Password: password,
			},
		},
	}
}

// Host returns the camera address the client was built with.
func (c *Client) Host() string { return c.host }

func (c *Client) channelPath() string {
	return fmt.Sprintf("/ISAPI/Image/channels/%d", c.channel)
}

func (c *Client) fetchRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func (c *Client) fetchDocument(ctx context.Context, path string) (*Document, error) {
	raw, err := c.fetchRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// GetDeviceInfo fetches the camera's identity. It doubles as the
// credential check at startup: a wrong password fails here first.
func (c *Client) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	doc, err := c.fetchDocument(ctx, "/ISAPI/System/deviceInfo")
	if err != nil {
		return DeviceInfo{}, err
	}

	leaf := func(path string) string {
		v, _ := doc.LeafText(path)
		return strings.TrimSpace(v)
	}
	return DeviceInfo{
		Model:           leaf("model"),
		SerialNumber:    leaf("serialNumber"),
		FirmwareVersion: leaf("firmwareVersion"),
		FirmwareBuild:   leaf("firmwareReleasedDate"),
		MACAddress:      leaf("macAddress"),
		DeviceName:      leaf("deviceName"),
	}, nil
}

// GetCapabilities fetches the image capability schema for the channel.
func (c *Client) GetCapabilities(ctx context.Context) (*Document, error) {
	return c.fetchDocument(ctx, c.channelPath()+"/capabilities")
}

// GetCurrentValues fetches the live image settings for the channel.
func (c *Client) GetCurrentValues(ctx context.Context) (*Document, error) {
	return c.fetchDocument(ctx, c.channelPath())
}

// PutSetting writes one value via a full read-modify-write cycle.
func (c *Client) PutSetting(ctx context.Context, path, value string) (PutResult, error) {
	return c.PutSettings(ctx, []Edit{{Path: path, Value: value}})
}

// PutSettings applies a batch of edits to a freshly fetched document and
// submits the whole resource. Unknown paths are logged and skipped, values
// already current are skipped, and if nothing changed the submission is
// skipped entirely.
func (c *Client) PutSettings(ctx context.Context, edits []Edit) (PutResult, error) {
	doc, err := c.GetCurrentValues(ctx)
	if err != nil {
		return PutResult{}, err
	}

	changed := false
	for _, e := range edits {
		old, ok := doc.LeafText(e.Path)
		if !ok {
			slog.Warn("isapi path not found in document", "path", e.Path)
			continue
		}
		if old == e.Value {
			slog.Debug("isapi setting already current", "path", e.Path, "value", e.Value)
			continue
		}
		if err := doc.SetLeafText(e.Path, e.Value); err != nil {
			return PutResult{}, fmt.Errorf("editing %s: %w", e.Path, err)
		}
		slog.Debug("isapi setting changed", "path", e.Path, "value", e.Value, "was", old)
		changed = true
	}

	if !changed {
		slog.Debug("isapi batch is a no-op, skipping write")
		return PutResult{Success: true, StatusCode: http.StatusOK, SubStatus: putStatusOK}, nil
	}
	return c.submit(ctx, doc.Bytes())
}

// PutSettingWithEnable enables a feature and sets its mode in one PUT.
// When the feature is off the camera omits the mode node entirely, so the
// mode may need to be inserted rather than replaced.
func (c *Client) PutSettingWithEnable(ctx context.Context, enabledPath, modePath, modeValue string) (PutResult, error) {
	doc, err := c.GetCurrentValues(ctx)
	if err != nil {
		return PutResult{}, err
	}

	if old, ok := doc.LeafText(enabledPath); ok && old != "true" {
		if err := doc.SetLeafText(enabledPath, "true"); err != nil {
			return PutResult{}, fmt.Errorf("enabling %s: %w", enabledPath, err)
		}
	}

	if old, ok := doc.LeafText(modePath); ok {
		if old != modeValue {
			if err := doc.SetLeafText(modePath, modeValue); err != nil {
				return PutResult{}, fmt.Errorf("editing %s: %w", modePath, err)
			}
		}
	} else {
		tag := modePath[strings.LastIndex(modePath, "/")+1:]
		slog.Debug("isapi inserting absent mode node", "path", modePath, "value", modeValue)
		if err := doc.InsertLeafAfter(enabledPath, tag, modeValue); err != nil {
			return PutResult{}, fmt.Errorf("inserting %s: %w", modePath, err)
		}
	}

	return c.submit(ctx, doc.Bytes())
}

func (c *Client) submit(ctx context.Context, body []byte) (PutResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+c.channelPath(), bytes.NewReader(body))
	if err != nil {
		return PutResult{}, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PutResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return PutResult{}, err
	}

	result, err := parsePutResult(respBody, resp.StatusCode)
	if err != nil {
		return PutResult{}, err
	}
	if !result.Success {
		slog.Warn("isapi put rejected", "subStatus", result.SubStatus, "http", result.StatusCode)
	}
	return result, nil
}

// parsePutResult reads the camera's ResponseStatus body. The sub-status
// code is the machine-readable rejection reason consulted by the conflict
// resolver; it defaults to "ok" when absent.
func parsePutResult(body []byte, httpStatus int) (PutResult, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return PutResult{}, fmt.Errorf("parsing put response: %w", err)
	}

	statusStr, _ := doc.LeafText("statusString")
	subStatus, ok := doc.LeafText("subStatusCode")
	if !ok || strings.TrimSpace(subStatus) == "" {
		subStatus = putStatusOK
	}
	return PutResult{
		Success:    strings.TrimSpace(statusStr) == "OK" && httpStatus == http.StatusOK,
		StatusCode: httpStatus,
		SubStatus:  strings.TrimSpace(subStatus),
	}, nil
}
