package httpapi

import (
	"errors"
	"net/http"
	"time"

	"incidencia/internal/ids"
	"incidencia/internal/media"
)

type convertRequest struct {
	DeviceID  string `json:"device_id"`
	ImageData string `json:"image_data"`
	Filename  string `json:"filename"`
}

// ConvertToURL rehosts an inline payload on the storage service and returns
// its durable URL.
func (a *API) ConvertToURL(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.ImageData == "" {
		writeError(w, r, http.StatusBadRequest, "image_data is required")
		return
	}
	if _, ok := a.device(w, r, req.DeviceID); !ok {
		return
	}
	filename := req.Filename
	if filename == "" {
		filename = ids.PhotoFilename(time.Now())
	}
	hosted, err := a.relay.Upload(r.Context(), req.ImageData, filename)
	switch {
	case errors.Is(err, media.ErrBadPayload):
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hosted)
}

type deleteURLRequest struct {
	DeviceID  string `json:"device_id"`
	StorageID string `json:"_id"`
}

// DeleteURL removes a previously hosted payload. Deleting an id the storage
// no longer knows still reports success.
func (a *API) DeleteURL(w http.ResponseWriter, r *http.Request) {
	var req deleteURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.StorageID == "" {
		writeError(w, r, http.StatusBadRequest, "_id is required")
		return
	}
	if _, ok := a.device(w, r, req.DeviceID); !ok {
		return
	}
	if err := a.relay.Delete(r.Context(), req.StorageID); err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
