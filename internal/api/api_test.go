package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haptickit/hapticd/internal/hal"
	"github.com/haptickit/hapticd/internal/manager"
	"github.com/haptickit/hapticd/internal/models"
	"github.com/haptickit/hapticd/internal/scheduler"
	"github.com/haptickit/hapticd/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	mgr := manager.New(st)
	dev := hal.NewFakeDevice(hal.DefaultFakeInfo(0))
	if err := mgr.AddDevice(context.Background(), 0, dev); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	sched := scheduler.NewScheduler()
	t.Cleanup(sched.Stop)

	srv := NewServer(mgr, st, sched)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

const vibratePayload = `{
	"uid": 1000,
	"package": "test.app",
	"usage": "touch",
	"effect": {
		"uniform": {
			"segments": [{"kind": "step", "amplitude": 0.5, "duration_ms": 10}]
		}
	}
}`

func TestVibrateEndpoint(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/vibrate", vibratePayload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if body.Status != string(models.APIStatusOK) {
		t.Fatalf("Response status = %q, want ok", body.Status)
	}
	result, ok := body.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result is %T, want an object", body.Result)
	}
	if result["token"] == "" || result["usage"] != "touch" {
		t.Errorf("Unexpected vibration view %v", result)
	}

	// The record lands in the store once the vibration ends.
	deadline := time.After(2 * time.Second)
	for {
		recs, err := st.ListVibrations(10)
		if err != nil {
			t.Fatalf("ListVibrations failed: %v", err)
		}
		if len(recs) == 1 && recs[0].Status == models.StatusFinished {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Vibration never recorded, have %+v", recs)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestVibrateRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/vibrate", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Malformed JSON status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/vibrate", `{"uid": 1, "effect": null}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Missing effect status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	getResp, err := http.Get(ts.URL + "/vibrate")
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/cancel", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	body := decodeResponse(t, resp)
	if !strings.Contains(body.Message, "No vibration") {
		t.Errorf("Message = %q, want the idempotent no-op message", body.Message)
	}
}

func TestCancelRejectsUnknownReason(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/vibrate", `{
		"uid": 1, "usage": "touch",
		"effect": {"uniform": {"segments": [
			{"kind": "step", "amplitude": 0.5, "duration_ms": 5}
		], "repeat_index": 0}}
	}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Submit status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/cancel", `{"reason": "bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/cancel", `{"reason": "user", "immediate": true}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeResponse(t, resp)
	result, ok := body.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result is %T, want an object", body.Result)
	}
	if vibrating, _ := result["vibrating"].(bool); vibrating {
		t.Error("Expected idle status")
	}
}

func TestDevicesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/devices")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeResponse(t, resp)
	devices, ok := body.Result.([]interface{})
	if !ok || len(devices) != 1 {
		t.Fatalf("Expected one device in result, got %v", body.Result)
	}
}

func TestVibrationsEndpoint(t *testing.T) {
	ts, st := newTestServer(t)

	now := time.Now()
	if err := st.AddVibration(models.Record{ID: 1, Token: "a", Status: models.StatusFinished, CreatedAt: now, EndedAt: now}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/vibrations")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeResponse(t, resp)
	recs, ok := body.Result.([]interface{})
	if !ok || len(recs) != 1 {
		t.Fatalf("Expected one record in result, got %v", body.Result)
	}

	resp, err = http.Get(ts.URL + "/vibrations?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Invalid limit status = %d, want 400", resp.StatusCode)
	}
}

func TestIntensityEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/settings/intensity",
		strings.NewReader(`{"usage": "touch", "intensity": 3}`))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/settings/intensity")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeResponse(t, getResp)
	result, ok := body.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result is %T, want an object", body.Result)
	}
	if got, _ := result["touch"].(float64); got != 3 {
		t.Errorf("Touch intensity = %v, want 3", result["touch"])
	}

	// DELETE reverts the usage to its default.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/settings/intensity?usage=touch", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200", resp.StatusCode)
	}
	getResp, err = http.Get(ts.URL + "/settings/intensity")
	if err != nil {
		t.Fatal(err)
	}
	body = decodeResponse(t, getResp)
	result, ok = body.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Result is %T, want an object", body.Result)
	}
	if got, _ := result["touch"].(float64); got != float64(models.IntensityMedium) {
		t.Errorf("Touch intensity after revert = %v, want medium", result["touch"])
	}

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/settings/intensity",
		strings.NewReader(`{"usage": "bogus", "intensity": 1}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Bad usage status = %d, want 400", resp.StatusCode)
	}
}

func TestAdaptiveScaleEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/settings/adaptive-scale", `{"usage": "media", "scale": 0.5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/settings/adaptive-scale", `{"usage": "media", "scale": -1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Negative scale status = %d, want 400", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/settings/adaptive-scale?usage=media", nil)
	if err != nil {
		t.Fatal(err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d, want 200", delResp.StatusCode)
	}

	// DELETE without a usage resets every multiplier.
	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/settings/adaptive-scale", nil)
	if err != nil {
		t.Fatal(err)
	}
	delResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("Clear-all status = %d, want 200", delResp.StatusCode)
	}
}

func TestExternalControlEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// The default fake device does not support external control.
	resp := postJSON(t, ts.URL+"/external-control", `{"actuator": 0, "enabled": true}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Websocket dial failed: %v", err)
	}
	defer conn.Close()

	resp := postJSON(t, ts.URL+"/vibrate", vibratePayload)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Submit status = %d, want 200", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var event VibrationEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("Never received a terminal event: %v", err)
		}
		if event.Usage != models.UsageTouch {
			t.Errorf("Event usage = %v, want touch", event.Usage)
		}
		if event.Status.Terminal() {
			if event.Status != models.StatusFinished {
				t.Errorf("Terminal event status = %v, want finished", event.Status)
			}
			return
		}
	}
}
