package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"incidencia/internal/config"
	"incidencia/internal/erp"
	"incidencia/internal/gtask"
	"incidencia/internal/incidence"
	"incidencia/internal/media"
	"incidencia/internal/session"
	"incidencia/internal/stream"
)

type staticAuth struct{}

func (staticAuth) Login(ctx context.Context, username, password string) (gtask.LoginResult, error) {
	return gtask.LoginResult{
		Identity:    gtask.Identity{ID: "u-9", Username: username},
		AccessToken: "opaque-token",
	}, nil
}

func runnerFixture(t *testing.T, erpHandler http.HandlerFunc) (*Runner, *Store, *session.Device, *stream.Stream) {
	t.Helper()
	erpSrv := httptest.NewServer(erpHandler)
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/p.jpg", "_id": "blob-1"})
	}))
	t.Cleanup(func() {
		erpSrv.Close()
		relaySrv.Close()
	})

	cfg := config.Default()
	cfg.ERP.BaseURL = erpSrv.URL
	cfg.ERP.Username = "svc"
	cfg.ERP.Password = "secret"
	cfg.Relay.SaveURL = relaySrv.URL + "/save"
	cfg.Relay.DeleteURL = relaySrv.URL + "/delete"
	cfg.Relay.Attempts = 1
	cfg.Relay.RetryDelay = 0

	reg := session.NewRegistry(&cfg, staticAuth{}, nil)
	dev, err := reg.Login(context.Background(), "dev-1", "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	store, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	events := stream.New()
	sub := incidence.NewSubmitter(&cfg, erp.New(&cfg), media.NewRelay(&cfg))
	return NewRunner(store, sub, events), store, dev, events
}

func singleTaskERP(t *testing.T, submitStatus int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "devuelveidqr") {
			inner, _ := json.Marshal([]map[string]any{{
				"idqr": "FIJ001",
				"tareas": []map[string]string{
					{"idnavision": "NAV-1", "empresa": "Malla Publicidad"},
				},
			}})
			json.NewEncoder(w).Encode(map[string]string{"value": string(inner)})
			return
		}
		w.WriteHeader(submitStatus)
	}
}

func fixationInput() incidence.FixationInput {
	return incidence.FixationInput{
		QRText: "IdQr/FIJ001",
		Photo: incidence.Asset{
			Data:     base64.StdEncoding.EncodeToString([]byte("photo")),
			Filename: "p.jpg",
		},
	}
}

func TestRunnerRecordsSuccess(t *testing.T) {
	runner, store, dev, events := runnerFixture(t, singleTaskERP(t, http.StatusCreated))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := events.Subscribe(ctx)

	job, err := runner.EnqueueFixation(ctx, fixationInput(), dev)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("caller must see the queued record, got %s", job.Status)
	}
	runner.Wait()

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Error != "" {
		t.Fatalf("unexpected terminal record: %+v", got)
	}
	var res incidence.Result
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatalf("decode stored result: %v", err)
	}
	if res.Outcome != incidence.OutcomeOK {
		t.Fatalf("stored outcome %s", res.Outcome)
	}

	statuses := drainEvents(t, feed, 2)
	if statuses[0] != string(StatusRunning) || statuses[1] != string(StatusSucceeded) {
		t.Fatalf("unexpected event sequence: %v", statuses)
	}
}

func TestRunnerRecordsFailureDetail(t *testing.T) {
	runner, store, dev, _ := runnerFixture(t, singleTaskERP(t, http.StatusInternalServerError))

	job, err := runner.EnqueueFixation(context.Background(), fixationInput(), dev)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	runner.Wait()

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("want failed, got %s", got.Status)
	}
	if got.Error == "" {
		t.Fatal("failure detail must be recorded")
	}
}

func drainEvents(t *testing.T, feed <-chan stream.Event, n int) []string {
	t.Helper()
	statuses := make([]string, 0, n)
	timeout := time.After(5 * time.Second)
	for len(statuses) < n {
		select {
		case evt := <-feed:
			statuses = append(statuses, evt.Status)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", statuses)
		}
	}
	return statuses
}
