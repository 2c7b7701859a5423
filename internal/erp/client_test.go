package erp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"incidencia/internal/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.ERP.BaseURL = baseURL
	cfg.ERP.Username = "svc"
	cfg.ERP.Password = "secret"
	cfg.ERP.Timeout = 5
	cfg.ERP.LargeImageTimeout = 10
	return &cfg
}

// taskLookupResponse builds the ERP's nested answer: an outer object whose
// "value" field is itself a JSON string.
func taskLookupResponse(t *testing.T, tasks []map[string]string) []byte {
	t.Helper()
	inner, err := json.Marshal([]map[string]any{{"idqr": "FIJ001", "tareas": tasks}})
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	outer, err := json.Marshal(map[string]string{"value": string(inner)})
	if err != nil {
		t.Fatalf("marshal outer: %v", err)
	}
	return outer
}

func TestTasksByQRSingleCandidate(t *testing.T) {
	var gotBody struct {
		JSONText string `json:"jsonText"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("company") != "Malla Publicidad" {
			t.Errorf("missing company param, got query %q", r.URL.RawQuery)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Basic ") {
			t.Errorf("expected basic auth, got %q", auth)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("request not jsonText-wrapped: %v", err)
		}
		w.Write(taskLookupResponse(t, []map[string]string{
			{"idnavision": "NAV-77", "empresa": "Malla Publicidad"},
		}))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.TasksByQR(context.Background(), "FIJ001")
	if err != nil {
		t.Fatalf("TasksByQR: %v", err)
	}
	if res.Kind != One {
		t.Fatalf("expected One, got %v with %d tasks", res.Kind, len(res.Tasks))
	}
	if got := res.Task().IDNavision; got != "NAV-77" {
		t.Fatalf("task id = %q", got)
	}
	if !strings.Contains(gotBody.JSONText, `"qrtarea":"FIJ001"`) {
		t.Fatalf("inner payload missing qrtarea: %s", gotBody.JSONText)
	}
}

func TestTasksByQRManyKeepsAllCandidatesVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(taskLookupResponse(t, []map[string]string{
			{"idnavision": "NAV-1", "empresa": "A", "prioridad": "alta"},
			{"idnavision": "NAV-2", "empresa": "A"},
			{"idnavision": "NAV-3", "empresa": "B"},
		}))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.TasksByQR(context.Background(), "X")
	if err != nil {
		t.Fatalf("TasksByQR: %v", err)
	}
	if res.Kind != Many || len(res.Tasks) != 3 {
		t.Fatalf("expected Many/3, got %v/%d", res.Kind, len(res.Tasks))
	}
	// a resolver-supplied field unknown to us must survive re-serialization
	out, err := json.Marshal(res.Tasks[0])
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	if !strings.Contains(string(out), `"prioridad":"alta"`) {
		t.Fatalf("extra field dropped: %s", out)
	}
}

func TestTasksByQRDegradesOnMalformedInnerPayload(t *testing.T) {
	for name, body := range map[string]string{
		"missing value":   `{}`,
		"empty value":     `{"value":""}`,
		"value not json":  `{"value":"not json at all"}`,
		"empty array":     `{"value":"[]"}`,
		"no tareas field": `{"value":"[{\"idqr\":\"X\"}]"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			c := New(testConfig(srv.URL))
			res, err := c.TasksByQR(context.Background(), "X")
			if err != nil {
				t.Fatalf("lookup should degrade, not fail: %v", err)
			}
			if res.Kind != None {
				t.Fatalf("expected None, got %v", res.Kind)
			}
		})
	}
}

func TestTasksByQRUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	if _, err := c.TasksByQR(context.Background(), "X"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestSubmitFixationUsesTaskTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("company"); got != "Empresa Norte" {
			t.Errorf("company = %q, want task tenant", got)
		}
		var env struct {
			JSONText string `json:"jsonText"`
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &env); err != nil {
			t.Errorf("bad envelope: %v", err)
		}
		var recs []FixationRecord
		if err := json.Unmarshal([]byte(env.JSONText), &recs); err != nil || len(recs) != 1 {
			t.Errorf("inner payload not a single-record array: %v", err)
		} else if recs[0].QRTarea != "FIJ001" || recs[0].User != "user-9" {
			t.Errorf("record fields lost: %+v", recs[0])
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.SubmitFixation(context.Background(), FixationRecord{
		QRTarea:    "FIJ001",
		IDNavision: "NAV-1",
		Empresa:    "Empresa Norte",
		User:       "user-9",
		Document:   []Document{{Document: DocumentBody{URL: "aGVsbG8=", Name: "p.jpg"}}},
	}, 0.5)
	if err != nil {
		t.Fatalf("SubmitFixation: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestSubmitIncidencePropagatesFailureBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ODataV4 error: missing field", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.SubmitIncidence(context.Background(), IncidenceRecord{State: "PENDING"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(res.Body, "missing field") {
		t.Fatalf("diagnostics lost: %+v", res)
	}
}

func TestUploadTimeoutScalesWithSize(t *testing.T) {
	c := New(testConfig("http://unused"))
	if small, large := c.uploadTimeout(1), c.uploadTimeout(25); small >= large {
		t.Fatalf("expected longer timeout for large payloads: %v vs %v", small, large)
	}
}
