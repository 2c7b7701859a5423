package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"incidencia/internal/config"
	"incidencia/internal/gtask"
	"incidencia/internal/obs"
)

// ErrMissingDeviceID rejects requests that carry no device identifier. The
// gateway never invents one: a generated fallback id would hand the caller a
// fresh anonymous session on every request and silently break continuity.
var ErrMissingDeviceID = errors.New("session: device id is required")

// Authenticator is the slice of the identity provider the registry needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (gtask.LoginResult, error)
}

// Registry owns every device session. It is safe for concurrent use from
// request handlers and the sweep loop.
type Registry struct {
	cfg   *config.Config
	auth  Authenticator
	snaps *SnapshotStore
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Device
}

// NewRegistry builds a registry. snaps may be nil to disable the durable
// mirror.
func NewRegistry(cfg *config.Config, auth Authenticator, snaps *SnapshotStore) *Registry {
	return &Registry{
		cfg:      cfg,
		auth:     auth,
		snaps:    snaps,
		now:      time.Now,
		sessions: make(map[string]*Device),
	}
}

// GetOrCreate returns the session for deviceID, lazily creating an anonymous
// one on first contact. A disk snapshot from a previous process restores the
// login state when still valid.
func (r *Registry) GetOrCreate(deviceID string) (*Device, error) {
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}
	now := r.now()

	r.mu.RLock()
	dev, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if ok {
		dev.touch(now)
		return dev, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok = r.sessions[deviceID]; ok {
		dev.touch(now)
		return dev, nil
	}
	dev = &Device{id: deviceID, createdAt: now, lastActivity: now}
	if r.snaps != nil {
		if snap, err := r.snaps.Load(deviceID); err == nil && snap != nil && snap.Credential.ValidAt(now) {
			dev.setLogin(snap.Identity, snap.Credential)
			obs.Info("session restored from snapshot", map[string]any{"device_id": deviceID, "user": snap.Identity.Username})
		}
	}
	r.sessions[deviceID] = dev
	obs.Info("device session created", map[string]any{"device_id": deviceID})
	return dev, nil
}

// Touch updates last activity without creating a session.
func (r *Registry) Touch(deviceID string) {
	r.mu.RLock()
	dev, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if ok {
		dev.touch(r.now())
	}
}

// Login authenticates the device against the identity provider and stores
// the resulting credential on the session.
func (r *Registry) Login(ctx context.Context, deviceID, username, password string) (*Device, error) {
	dev, err := r.GetOrCreate(deviceID)
	if err != nil {
		return nil, err
	}
	res, err := r.auth.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	fallback := time.Duration(r.cfg.AuthService.DefaultTokenHr) * time.Hour
	cred := NewCredential(res.AccessToken, fallback, r.now())
	dev.setLogin(res.Identity, cred)
	if r.snaps != nil {
		if err := r.snaps.Save(deviceID, res.Identity, cred); err != nil {
			obs.Warn("session snapshot failed", map[string]any{"device_id": deviceID, "error": err.Error()})
		}
	}
	return dev, nil
}

// Logout clears the device's in-memory and mirrored state. Other devices
// are untouched.
func (r *Registry) Logout(deviceID string) {
	r.mu.RLock()
	dev, ok := r.sessions[deviceID]
	r.mu.RUnlock()
	if ok {
		dev.clear()
	}
	if r.snaps != nil {
		r.snaps.Clear(deviceID)
	}
}

// Sweep removes sessions inactive beyond maxAge and returns how many were
// evicted.
func (r *Registry) Sweep(maxAge time.Duration) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, dev := range r.sessions {
		if now.Sub(dev.LastActivity()) > maxAge {
			delete(r.sessions, id)
			evicted++
			obs.Info("device session evicted", map[string]any{"device_id": id})
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartSweeper runs Sweep on the configured interval until ctx ends. The
// loop is independent of request traffic: an idle gateway still evicts.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(r.cfg.SessionMaxAge())
			}
		}
	}()
}
