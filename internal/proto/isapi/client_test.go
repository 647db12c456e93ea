package isapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const okResponseStatus = `<?xml version="1.0" encoding="UTF-8"?>
<ResponseStatus version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<requestURL>/ISAPI/Image/channels/1</requestURL>
<statusCode>1</statusCode>
<statusString>OK</statusString>
<subStatusCode>ok</subStatusCode>
</ResponseStatus>`

// cameraFixture fakes the two channel endpoints a write cycle touches and
// records every PUT body.
type cameraFixture struct {
	channelDoc string
	putStatus  int
	putBody    string
	puts       []string
}

func (f *cameraFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/ISAPI/Image/channels/1":
			io.WriteString(w, f.channelDoc)
		case r.Method == http.MethodPut && r.URL.Path == "/ISAPI/Image/channels/1":
			body, _ := io.ReadAll(r.Body)
			f.puts = append(f.puts, string(body))
			status, resp := f.putStatus, f.putBody
			if status == 0 {
				status, resp = http.StatusOK, okResponseStatus
			}
			w.WriteHeader(status)
			io.WriteString(w, resp)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, f *cameraFixture) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(strings.TrimPrefix(srv.URL, "http://"), "admin", "pw", 1)
}

func TestGetDeviceInfo(t *testing.T) {
	const info = `<?xml version="1.0" encoding="UTF-8"?>
<DeviceInfo version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<deviceName>Front Door</deviceName>
<model>DS-2CD2387G2</model>
<serialNumber>DS-2CD2387G2AA11BB22</serialNumber>
<macAddress>A4:D5:C2:00:11:FF</macAddress>
<firmwareVersion>V5.7.3</firmwareVersion>
<firmwareReleasedDate>build 220112</firmwareReleasedDate>
</DeviceInfo>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ISAPI/System/deviceInfo" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, info)
	}))
	defer srv.Close()

	c := NewClient(strings.TrimPrefix(srv.URL, "http://"), "admin", "pw", 0)
	got, err := c.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "DS-2CD2387G2" || got.DeviceName != "Front Door" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if got.FirmwareVersion != "V5.7.3" || got.FirmwareBuild != "build 220112" {
		t.Fatalf("unexpected firmware %+v", got)
	}
	if got.ExternalID() != "a4d5c20011ff" {
		t.Fatalf("expected external id %q, got %q", "a4d5c20011ff", got.ExternalID())
	}
}

// A write fetches the live document, edits the targeted spans in place, and
// submits the full resource back.
func TestPutSettingsReadModifyWrite(t *testing.T) {
	f := &cameraFixture{channelDoc: sampleChannel}
	c := newTestClient(t, f)

	res, err := c.PutSettings(context.Background(), []Edit{
		{Path: "WDR/mode", Value: "open"},
		{Path: "HLC/HLCLevel", Value: "40"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.SubStatus != "ok" {
		t.Fatalf("expected accepted write, got %+v", res)
	}
	if len(f.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(f.puts))
	}
	want := strings.Replace(sampleChannel, "<mode>close</mode>", "<mode>open</mode>", 1)
	want = strings.Replace(want, "<HLCLevel>20</HLCLevel>", "<HLCLevel>40</HLCLevel>", 1)
	if f.puts[0] != want {
		t.Fatalf("submitted document drifted:\nexpected %q\ngot      %q", want, f.puts[0])
	}
}

// When every edit already matches the live document, no PUT goes out and
// the result reports success.
func TestPutSettingsNoOp(t *testing.T) {
	f := &cameraFixture{channelDoc: sampleChannel}
	c := newTestClient(t, f)

	res, err := c.PutSettings(context.Background(), []Edit{
		{Path: "WDR/mode", Value: "close"},
		{Path: "BLC/enabled", Value: "false"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.StatusCode != http.StatusOK {
		t.Fatalf("expected synthetic success, got %+v", res)
	}
	if len(f.puts) != 0 {
		t.Fatalf("expected no PUT, got %d", len(f.puts))
	}
}

// Paths absent from the live document are skipped, the rest of the batch
// still applies.
func TestPutSettingsUnknownPathSkipped(t *testing.T) {
	f := &cameraFixture{channelDoc: sampleChannel}
	c := newTestClient(t, f)

	res, err := c.PutSettings(context.Background(), []Edit{
		{Path: "Sharpness/SharpnessLevel", Value: "5"},
		{Path: "WDR/WDRLevel", Value: "80"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(f.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(f.puts))
	}
	if !strings.Contains(f.puts[0], "<WDRLevel>80</WDRLevel>") {
		t.Fatalf("known edit missing from body: %q", f.puts[0])
	}
	if strings.Contains(f.puts[0], "Sharpness") {
		t.Fatalf("unknown path materialized in body: %q", f.puts[0])
	}
}

// Enabling a merged feature inserts the mode node when the camera dropped
// it while the feature was off.
func TestPutSettingWithEnableInsertsMode(t *testing.T) {
	f := &cameraFixture{channelDoc: sampleChannel}
	c := newTestClient(t, f)

	res, err := c.PutSettingWithEnable(context.Background(), "BLC/enabled", "BLC/BLCMode", "CENTER")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(f.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(f.puts))
	}
	body := f.puts[0]
	if !strings.Contains(body, "<enabled>true</enabled>\n<BLCMode>CENTER</BLCMode>\n</BLC>") {
		t.Fatalf("mode node not inserted after enabled: %q", body)
	}
	hlc, _ := mustParse(t, body).LeafText("HLC/enabled")
	if hlc != "true" {
		t.Fatalf("unrelated block changed: HLC/enabled=%q", hlc)
	}
}

// The mode node is replaced, not inserted, when it is already present.
func TestPutSettingWithEnableReplacesMode(t *testing.T) {
	doc := strings.Replace(sampleChannel,
		"<enabled>false</enabled>\n</BLC>",
		"<enabled>false</enabled>\n<BLCMode>CLOSE</BLCMode>\n</BLC>", 1)
	f := &cameraFixture{channelDoc: doc}
	c := newTestClient(t, f)

	if _, err := c.PutSettingWithEnable(context.Background(), "BLC/enabled", "BLC/BLCMode", "UPDOWN"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.puts) != 1 {
		t.Fatalf("expected 1 PUT, got %d", len(f.puts))
	}
	if strings.Count(f.puts[0], "<BLCMode>") != 1 || !strings.Contains(f.puts[0], "<BLCMode>UPDOWN</BLCMode>") {
		t.Fatalf("mode not replaced in place: %q", f.puts[0])
	}
}

func TestPutSettingRejected(t *testing.T) {
	f := &cameraFixture{
		channelDoc: sampleChannel,
		putStatus:  http.StatusBadRequest,
		putBody: `<ResponseStatus version="2.0">
<statusCode>4</statusCode>
<statusString>Invalid Operation</statusString>
<subStatusCode>MutexWithWDR</subStatusCode>
</ResponseStatus>`,
	}
	c := newTestClient(t, f)

	res, err := c.PutSetting(context.Background(), "BLC/enabled", "true")
	if err != nil {
		t.Fatalf("rejection must not be a transport error: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.SubStatus != "MutexWithWDR" || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPutSettingsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Device Busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(strings.TrimPrefix(srv.URL, "http://"), "admin", "pw", 1)

	if _, err := c.PutSetting(context.Background(), "WDR/mode", "open"); err == nil {
		t.Fatal("expected error for failed fetch")
	}
}

func TestParsePutResult(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		httpStatus int
		success    bool
		subStatus  string
	}{
		{"accepted", okResponseStatus, http.StatusOK, true, "ok"},
		{"ok body on error status", okResponseStatus, http.StatusInternalServerError, false, "ok"},
		{"missing sub status", `<ResponseStatus><statusString>OK</statusString></ResponseStatus>`,
			http.StatusOK, true, "ok"},
		{"rejection", `<ResponseStatus><statusString>Invalid Operation</statusString><subStatusCode>WDRNotDisable</subStatusCode></ResponseStatus>`,
			http.StatusBadRequest, false, "WDRNotDisable"},
	}
	for _, tc := range cases {
		res, err := parsePutResult([]byte(tc.body), tc.httpStatus)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if res.Success != tc.success || res.SubStatus != tc.subStatus {
			t.Fatalf("%s: expected success=%v sub=%q, got %+v", tc.name, tc.success, tc.subStatus, res)
		}
	}
	if _, err := parsePutResult([]byte("not xml"), http.StatusOK); err == nil {
		t.Fatal("expected parse error for garbage body")
	}
}
