package incidence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"incidencia/internal/config"
	"incidencia/internal/erp"
	"incidencia/internal/gtask"
	"incidencia/internal/media"
	"incidencia/internal/session"
)

type fakeAuth struct{}

func (fakeAuth) Login(ctx context.Context, username, password string) (gtask.LoginResult, error) {
	return gtask.LoginResult{
		Identity:    gtask.Identity{ID: "u-1", Username: username},
		AccessToken: "opaque-token",
	}, nil
}

// pipeline wires a submitter against the given ERP and relay handlers and
// returns it together with an authenticated device session.
func pipeline(t *testing.T, erpHandler, relayHandler http.Handler) (*Submitter, *session.Device, func()) {
	t.Helper()
	if erpHandler == nil {
		erpHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected ERP call")
		})
	}
	if relayHandler == nil {
		relayHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected relay call")
		})
	}
	erpSrv := httptest.NewServer(erpHandler)
	relaySrv := httptest.NewServer(relayHandler)

	cfg := config.Default()
	cfg.ERP.BaseURL = erpSrv.URL
	cfg.ERP.Username = "svc"
	cfg.ERP.Password = "secret"
	cfg.Relay.SaveURL = relaySrv.URL + "/save"
	cfg.Relay.DeleteURL = relaySrv.URL + "/delete"
	cfg.Relay.Attempts = 1
	cfg.Relay.RetryDelay = 0

	reg := session.NewRegistry(&cfg, fakeAuth{}, nil)
	dev, err := reg.Login(context.Background(), "dev-1", "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sub := NewSubmitter(&cfg, erp.New(&cfg), media.NewRelay(&cfg))
	return sub, dev, func() {
		erpSrv.Close()
		relaySrv.Close()
	}
}

func anonymousDevice(t *testing.T) *session.Device {
	t.Helper()
	cfg := config.Default()
	reg := session.NewRegistry(&cfg, fakeAuth{}, nil)
	dev, err := reg.GetOrCreate("dev-anon")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	return dev
}

// unwrapJSONText decodes the ERP envelope into out.
func unwrapJSONText(t *testing.T, r io.Reader, out any) {
	t.Helper()
	var env struct {
		JSONText string `json:"jsonText"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal([]byte(env.JSONText), out); err != nil {
		t.Fatalf("decode inner record: %v", err)
	}
}

func lookupResponse(t *testing.T, tasks []map[string]any) []byte {
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

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestSubmitRejectsMissingDescription(t *testing.T) {
	sub, dev, done := pipeline(t, nil, nil)
	defer done()

	res := sub.Submit(context.Background(), Payload{
		State:         "open",
		IncidenceType: "graffiti",
	}, dev)
	if res.Outcome != OutcomeValidationFailed {
		t.Fatalf("want validation failure, got %s", res.Outcome)
	}
	if !strings.Contains(res.Message, "description") {
		t.Fatalf("message must name the missing field: %q", res.Message)
	}
}

func TestSubmitRequiresAuthentication(t *testing.T) {
	sub, _, done := pipeline(t, nil, nil)
	defer done()

	res := sub.Submit(context.Background(), Payload{
		State:         "open",
		IncidenceType: "graffiti",
		Description:   "broken glass",
	}, anonymousDevice(t))
	if res.Outcome != OutcomeAuthRequired {
		t.Fatalf("want auth required, got %s", res.Outcome)
	}
}

func TestSubmitStripsResourcePrefixAndRehostsMedia(t *testing.T) {
	var rec erp.IncidenceRecord
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unwrapJSONText(t, r.Body, &rec)
		w.WriteHeader(http.StatusCreated)
	})
	relayHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/p.jpg", "_id": "blob-1"})
	})
	sub, dev, done := pipeline(t, erpHandler, relayHandler)
	defer done()

	res := sub.Submit(context.Background(), Payload{
		State:         "open",
		IncidenceType: "graffiti",
		Description:   "tag on shelter wall",
		Resource:      "PARADA_0042",
		Images:        []Asset{{Data: b64("jpeg bytes"), Filename: "p.jpg"}},
	}, dev)
	if res.Outcome != OutcomeOK {
		t.Fatalf("want ok, got %s: %s", res.Outcome, res.Message)
	}
	if rec.Resource != "0042" {
		t.Fatalf("resource prefix not stripped: %q", rec.Resource)
	}
	if len(rec.Image) != 1 || rec.Image[0].Document.URL != "https://cdn.example/p.jpg" {
		t.Fatalf("image not rehosted: %+v", rec.Image)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestSubmitDegradesToInlineOnRelayFailure(t *testing.T) {
	var rec erp.IncidenceRecord
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unwrapJSONText(t, r.Body, &rec)
		w.WriteHeader(http.StatusOK)
	})
	relayHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	sub, dev, done := pipeline(t, erpHandler, relayHandler)
	defer done()

	raw := b64("jpeg bytes")
	res := sub.Submit(context.Background(), Payload{
		State:         "open",
		IncidenceType: "damage",
		Description:   "bent frame",
		Images:        []Asset{{Data: raw, Filename: "p.jpg"}},
	}, dev)
	if res.Outcome != OutcomeOK {
		t.Fatalf("relay failure must not abort the submission, got %s", res.Outcome)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("want one relay warning, got %v", res.Warnings)
	}
	if len(rec.Image) != 1 || rec.Image[0].Document.File != raw {
		t.Fatalf("original inline payload must be substituted: %+v", rec.Image)
	}
}

func TestFixationNoTasksMakesNoSubmitCall(t *testing.T) {
	var submits atomic.Int32
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			w.Write(lookupResponse(t, nil))
			return
		}
		submits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	sub, dev, done := pipeline(t, erpHandler, http.NotFoundHandler())
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText: "https://qr.example/IdQr/FIJ001",
		Photo:  Asset{Data: b64("photo"), Filename: "p.jpg"},
	}, dev)
	if res.Outcome != OutcomeNoTasks {
		t.Fatalf("want no_tasks, got %s", res.Outcome)
	}
	if submits.Load() != 0 {
		t.Fatal("no record may be posted when zero tasks match")
	}
}

func TestFixationAmbiguityCarriesCandidatesVerbatim(t *testing.T) {
	var submits atomic.Int32
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			w.Write(lookupResponse(t, []map[string]any{
				{"idnavision": "NAV-1", "empresa": "Malla Publicidad", "prioridad": "alta"},
				{"idnavision": "NAV-2", "empresa": "Malla Publicidad"},
			}))
			return
		}
		submits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	sub, dev, done := pipeline(t, erpHandler, http.NotFoundHandler())
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText: "IdQr/FIJ001",
		Photo:  Asset{Data: b64("photo"), Filename: "p.jpg"},
	}, dev)
	if res.Outcome != OutcomeAmbiguousTasks {
		t.Fatalf("want ambiguous_tasks, got %s", res.Outcome)
	}
	if res.Outcome.Terminal() {
		t.Fatal("ambiguity asks for more input, it is not terminal")
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("want both candidates, got %d", len(res.Tasks))
	}
	if submits.Load() != 0 {
		t.Fatal("no record may be posted while the choice is pending")
	}
	data, err := json.Marshal(res.Tasks[0])
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	if !strings.Contains(string(data), `"prioridad":"alta"`) {
		t.Fatalf("resolver-supplied field dropped: %s", data)
	}
}

func TestFixationSingleTaskSubmits(t *testing.T) {
	var rec erp.FixationRecord
	var company string
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			w.Write(lookupResponse(t, []map[string]any{
				{"idnavision": "NAV-7", "empresa": "Otra Empresa"},
			}))
			return
		}
		company = r.URL.Query().Get("company")
		var recs []erp.FixationRecord
		unwrapJSONText(t, r.Body, &recs)
		if len(recs) == 1 {
			rec = recs[0]
		}
		w.WriteHeader(http.StatusCreated)
	})
	relayHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/p.jpg", "_id": "blob-9"})
	})
	sub, dev, done := pipeline(t, erpHandler, relayHandler)
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText: "https://qr.example/IdQr/FIJ001",
		Photo:  Asset{Data: b64("photo"), Filename: "p.jpg"},
	}, dev)
	if res.Outcome != OutcomeOK {
		t.Fatalf("want ok, got %s: %s", res.Outcome, res.Message)
	}
	if rec.QRTarea != "FIJ001" {
		t.Fatalf("qr id not extracted from scan text: %q", rec.QRTarea)
	}
	if rec.IDNavision != "NAV-7" || rec.User != "u-1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if company != "Otra Empresa" {
		t.Fatalf("submit must use the task's tenant, got %q", company)
	}
	if len(rec.Document) != 1 || rec.Document[0].Document.URL != "https://cdn.example/p.jpg" {
		t.Fatalf("document not rehosted: %+v", rec.Document)
	}
}

func TestFixationMalformedSelectionIsValidation(t *testing.T) {
	sub, dev, done := pipeline(t, nil, nil)
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText:   "IdQr/FIJ001",
		Photo:    Asset{Data: b64("photo"), Filename: "p.jpg"},
		Selected: json.RawMessage(`{"idnavision": 7}`),
	}, dev)
	if res.Outcome != OutcomeValidationFailed {
		t.Fatalf("want validation_failed, got %s", res.Outcome)
	}
}

func TestFixationRollsBackHostedBlobOnSubmitFailure(t *testing.T) {
	var deleted atomic.Value
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			w.Write(lookupResponse(t, []map[string]any{
				{"idnavision": "NAV-7", "empresa": "Malla Publicidad"},
			}))
			return
		}
		http.Error(w, "posting not allowed", http.StatusForbidden)
	})
	relayHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/delete") {
			var body struct {
				ID string `json:"_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			deleted.Store(body.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/p.jpg", "_id": "blob-9"})
	})
	sub, dev, done := pipeline(t, erpHandler, relayHandler)
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText: "IdQr/FIJ001",
		Photo:  Asset{Data: b64("photo"), Filename: "p.jpg"},
	}, dev)
	if res.Outcome != OutcomeUpstreamFailed {
		t.Fatalf("want upstream_failed, got %s", res.Outcome)
	}
	if res.UpstreamStatus != http.StatusForbidden || !strings.Contains(res.UpstreamBody, "posting not allowed") {
		t.Fatalf("upstream diagnostics not propagated: %d %q", res.UpstreamStatus, res.UpstreamBody)
	}
	if got, _ := deleted.Load().(string); got != "blob-9" {
		t.Fatalf("hosted blob not rolled back, delete saw %q", got)
	}
}

func TestFixationPreSelectedTaskSkipsLookup(t *testing.T) {
	var lookups atomic.Int32
	erpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			lookups.Add(1)
			w.Write(lookupResponse(t, nil))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	relayHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/p.jpg", "_id": "b"})
	})
	sub, dev, done := pipeline(t, erpHandler, relayHandler)
	defer done()

	res := sub.SubmitFixation(context.Background(), FixationInput{
		QRText:   "IdQr/FIJ001",
		Photo:    Asset{Data: b64("photo"), Filename: "p.jpg"},
		Selected: json.RawMessage(`{"idnavision":"NAV-3","empresa":"Malla Publicidad"}`),
	}, dev)
	if res.Outcome != OutcomeOK {
		t.Fatalf("want ok, got %s: %s", res.Outcome, res.Message)
	}
	if lookups.Load() != 0 {
		t.Fatal("a pre-selected task must skip the QR lookup")
	}
}
