package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/tether/internal/model"
)

// postJSON posts a JSON body and decodes the JSON response into out.
func postJSON(t *testing.T, url string, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

// pollStatus polls GET /v1/requests/{id} until the record reaches the
// expected status.
func pollStatus(t *testing.T, baseURL, id, expected string) *model.Request {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("%s/v1/requests/%s", baseURL, id))
		if err != nil {
			t.Fatalf("GET request: %v", err)
		}
		var rec model.Request
		err = json.NewDecoder(resp.Body).Decode(&rec)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if rec.Status == expected {
			return &rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request %s did not reach status %q", id, expected)
	return nil
}

func TestSubmitRequestResolves(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var rec model.Request
	resp := postJSON(t, ts.URL+"/v1/requests", `{"payload":{"op":"echo"},"mode":"enqueue"}`, &rec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if rec.ID == "" {
		t.Fatal("response record has no id")
	}
	if rec.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}

	got := pollStatus(t, ts.URL, rec.ID, model.StatusCompleted)
	if string(got.Result) != `{"op":"echo"}` {
		t.Errorf("result = %s, want the echoed payload", got.Result)
	}
}

func TestSubmitRequestDefaultsToEnqueue(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var rec model.Request
	resp := postJSON(t, ts.URL+"/v1/requests", `{"payload":1}`, &rec)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if rec.Mode != model.ModeEnqueue {
		t.Errorf("mode = %q, want enqueue", rec.Mode)
	}
}

func TestSubmitRequestInvalidMode(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/requests", `{"payload":1,"mode":"sideways"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitRequestInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/requests", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/requests/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/v1/requests", fmt.Sprintf(`{"payload":%d}`, i), nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("submit %d: status = %d", i, resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/requests?limit=2")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer resp.Body.Close()

	var body listRequestsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Requests) != 2 {
		t.Errorf("len(requests) = %d, want 2", len(body.Requests))
	}
	if body.Limit != 2 {
		t.Errorf("limit = %d, want 2", body.Limit)
	}
}

func TestListRequestsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/requests")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(raw, []byte(`"requests":[]`)) {
		t.Errorf("empty list should serialize as [], got %s", raw)
	}
}

func TestCancelAllEndpoint(t *testing.T) {
	srv, sp := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make the live context stop answering so the request stays pending.
	sp.mu.Lock()
	sp.handles[0].setSilent(true)
	sp.mu.Unlock()

	var rec model.Request
	postJSON(t, ts.URL+"/v1/requests", `{"payload":1}`, &rec)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/requests",
		strings.NewReader(`{"reason":"operator cancel"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got := pollStatus(t, ts.URL, rec.ID, model.StatusCanceled)
	if got.Reason != "operator cancel" {
		t.Errorf("reason = %q, want %q", got.Reason, "operator cancel")
	}

	// A fresh context was spawned; new submissions resolve again.
	sp.mu.Lock()
	spawned := len(sp.handles)
	sp.mu.Unlock()
	if spawned != 2 {
		t.Errorf("spawned %d contexts, want 2", spawned)
	}
}

func TestRestartWorkerEndpoint(t *testing.T) {
	srv, sp := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/worker/restart", ``, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	sp.mu.Lock()
	spawned := len(sp.handles)
	sp.mu.Unlock()
	if spawned != 2 {
		t.Errorf("spawned %d contexts, want 2", spawned)
	}
}

func TestStreamProgressSettledRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var rec model.Request
	postJSON(t, ts.URL+"/v1/requests", `{"payload":"x"}`, &rec)
	pollStatus(t, ts.URL, rec.ID, model.StatusCompleted)

	resp, err := http.Get(fmt.Sprintf("%s/v1/requests/%s/progress", ts.URL, rec.ID))
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	if !strings.Contains(body, "event: done") {
		t.Errorf("stream missing done event: %q", body)
	}
	if !strings.Contains(body, model.StatusCompleted) {
		t.Errorf("done event missing terminal status: %q", body)
	}
}

func TestStreamProgressNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/requests/nonexistent/progress")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
