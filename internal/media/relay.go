// Package media prepares incidence attachments: it rehosts inline base64
// payloads on the blob-storage service and shrinks oversized images before
// they travel to the ERP.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"incidencia/internal/config"
	"incidencia/internal/obs"
)

// ErrRelayExhausted is returned when every attempt against the storage
// service failed; it wraps the last failure.
var ErrRelayExhausted = errors.New("media: relay attempts exhausted")

// Hosted identifies a rehosted asset: the durable URL and the storage id
// needed to delete it again.
type Hosted struct {
	URL string `json:"url"`
	ID  string `json:"_id"`
}

// Relay uploads and deletes blobs on the storage service with a bounded
// retry policy: transport failures and 5xx answers are retried with a fixed
// delay, 4xx answers fail immediately (the request will not get better), and
// a 404 on delete counts as success.
type Relay struct {
	cfg  *config.Config
	http *http.Client
	// sleep is swappable in tests
	sleep func(context.Context, time.Duration) error
}

// NewRelay builds a relay around cfg.
func NewRelay(cfg *config.Config) *Relay {
	return &Relay{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.Relay.Timeout) * time.Second,
		},
		sleep: sleepCtx,
	}
}

// Upload rehosts an inline payload and returns its durable location.
// Payloads that are already URLs pass through unchanged, which makes the
// relay idempotent with respect to resolved assets.
func (r *Relay) Upload(ctx context.Context, payload, filename string) (Hosted, error) {
	if IsURL(payload) {
		return Hosted{URL: payload}, nil
	}
	normalized, err := Normalize(payload, filename)
	if err != nil {
		return Hosted{}, err
	}
	body, err := json.Marshal(map[string]string{
		"base64":   normalized,
		"filename": filename,
	})
	if err != nil {
		return Hosted{}, fmt.Errorf("media: encode upload: %w", err)
	}

	var hosted Hosted
	err = r.attempt(ctx, "upload", func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Relay.SaveURL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.http.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return resp.StatusCode, fmt.Errorf("save status %d: %s", resp.StatusCode, data)
		}
		if err := json.NewDecoder(resp.Body).Decode(&hosted); err != nil {
			return resp.StatusCode, fmt.Errorf("decode save response: %w", err)
		}
		if hosted.URL == "" {
			return resp.StatusCode, errors.New("save response carries no url")
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return Hosted{}, err
	}
	return hosted, nil
}

// Delete removes a previously hosted blob by storage id. Deleting an id the
// service no longer knows reports success: the goal state is reached either
// way, which keeps rollback paths idempotent.
func (r *Relay) Delete(ctx context.Context, storageID string) error {
	body, err := json.Marshal(map[string]string{"_id": storageID})
	if err != nil {
		return fmt.Errorf("media: encode delete: %w", err)
	}
	return r.attempt(ctx, "delete", func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.cfg.Relay.DeleteURL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.http.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return resp.StatusCode, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return resp.StatusCode, fmt.Errorf("delete status %d: %s", resp.StatusCode, data)
		}
		return resp.StatusCode, nil
	})
}

// attempt runs op under the configured retry budget.
func (r *Relay) attempt(ctx context.Context, op string, call func() (int, error)) error {
	delay := time.Duration(r.cfg.Relay.RetryDelay) * time.Second
	var lastErr error
	for i := 0; i < r.cfg.Relay.Attempts; i++ {
		status, err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if status >= 400 && status < 500 {
			// client errors will not improve on retry
			break
		}
		if i < r.cfg.Relay.Attempts-1 {
			obs.ObserveRelayRetry()
			obs.Warn("relay attempt failed, retrying", map[string]any{
				"op": op, "attempt": i + 1, "error": err.Error(),
			})
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%w: %v (interrupted: %v)", ErrRelayExhausted, lastErr, err)
			}
		}
	}
	obs.ObserveRelayFailure(op)
	return fmt.Errorf("%w: %v", ErrRelayExhausted, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
