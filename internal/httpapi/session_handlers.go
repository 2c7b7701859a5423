package httpapi

import (
	"errors"
	"net/http"
	"os"
	"time"

	"incidencia/internal/audit"
	"incidencia/internal/gtask"
	"incidencia/internal/session"
)

type loginRequest struct {
	DeviceID string `json:"device_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a device against the identity provider and binds the
// resulting credential to its session.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}
	deviceID, err := session.DeviceID(r, req.DeviceID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "device id is required (X-Device-ID header or device_id field)")
		return
	}

	ctx := audit.WithDeviceID(r.Context(), deviceID)
	dev, err := a.sessions.Login(ctx, deviceID, req.Username, req.Password)
	if err != nil {
		_ = audit.LogEvent(ctx, "session.login_failed", map[string]any{"username": req.Username})
		switch {
		case errors.Is(err, gtask.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, gtask.ErrTimeout):
			writeError(w, r, http.StatusGatewayTimeout, "identity provider timed out")
		case errors.Is(err, gtask.ErrConnection):
			writeError(w, r, http.StatusBadGateway, "identity provider unreachable")
		default:
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}

	ident := dev.Identity()
	_ = audit.LogEvent(ctx, "session.login", map[string]any{"username": ident.Username})
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID(),
		"user": map[string]string{
			"_id":      ident.ID,
			"username": ident.Username,
			"email":    ident.Email,
		},
		"expires_at": dev.Credential().ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type logoutRequest struct {
	DeviceID string `json:"device_id"`
}

// Logout drops the device's credential and caches. Other devices keep their
// sessions.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	// body is optional here, the header alone is enough
	_ = decodeJSON(w, r, &req)
	deviceID, err := session.DeviceID(r, req.DeviceID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "device id is required (X-Device-ID header or device_id field)")
		return
	}
	a.sessions.Logout(deviceID)
	_ = audit.LogEvent(audit.WithDeviceID(r.Context(), deviceID), "session.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// Users returns the identity provider's account list, cached per device.
func (a *API) Users(w http.ResponseWriter, r *http.Request) {
	dev, ok := a.device(w, r, "")
	if !ok {
		return
	}
	now := time.Now()
	if !dev.IsValidAt(now) {
		writeError(w, r, http.StatusUnauthorized, "device session is not authenticated")
		return
	}
	ttl := time.Duration(a.cfg.Sessions.UsersCacheTTL) * time.Minute
	if users, ok := dev.CachedUsers(ttl, now); ok {
		writeJSON(w, http.StatusOK, map[string]any{"users": users, "cached": true})
		return
	}
	users, err := a.identity.Users(r.Context(), dev.Credential().Token)
	if err != nil {
		switch {
		case errors.Is(err, gtask.ErrTimeout):
			writeError(w, r, http.StatusGatewayTimeout, "identity provider timed out")
		default:
			writeError(w, r, http.StatusBadGateway, "identity provider unreachable")
		}
		return
	}
	dev.StoreUsers(users, now)
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "cached": false})
}

// Status reports the calling device's session state.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	dev, ok := a.device(w, r, "")
	if !ok {
		return
	}
	now := time.Now()
	resp := map[string]any{
		"device_id":     dev.ID(),
		"authenticated": dev.IsValidAt(now),
		"created_at":    dev.CreatedAt().UTC().Format(time.RFC3339),
		"last_activity": dev.LastActivity().UTC().Format(time.RFC3339),
	}
	if ident := dev.Identity(); ident != nil {
		resp["user"] = map[string]string{
			"_id":      ident.ID,
			"username": ident.Username,
			"email":    ident.Email,
		}
		resp["expires_at"] = dev.Credential().ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// StorageInfo reports the durable state the gateway holds.
func (a *API) StorageInfo(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"sessions":    a.sessions.Len(),
		"job_db_path": a.cfg.Jobs.DBPath,
	}
	if st, err := os.Stat(a.cfg.Jobs.DBPath); err == nil {
		resp["job_db_bytes"] = st.Size()
	}
	writeJSON(w, http.StatusOK, resp)
}
