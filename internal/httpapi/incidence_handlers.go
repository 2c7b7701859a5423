package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"incidencia/internal/audit"
	"incidencia/internal/erp"
	"incidencia/internal/ids"
	"incidencia/internal/incidence"
	"incidencia/internal/session"
)

type incidenceRequest struct {
	DeviceID string `json:"device_id"`
	incidence.Payload
}

// SubmitIncidence runs the full incidence pipeline synchronously.
func (a *API) SubmitIncidence(w http.ResponseWriter, r *http.Request) {
	var req incidenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	dev, ok := a.device(w, r, req.DeviceID)
	if !ok {
		return
	}
	ctx := audit.WithDeviceID(r.Context(), dev.ID())
	res := a.submitter.Submit(ctx, req.Payload, dev)
	_ = audit.LogEvent(ctx, "incidence.submitted", map[string]any{"outcome": string(res.Outcome)})
	writeJSON(w, outcomeStatus(res.Outcome), res)
}

// TasksByQR resolves the work orders behind a QR identifier. The candidate
// list is returned verbatim whatever fields the resolver attached.
func (a *API) TasksByQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		QRID     string `json:"qr_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.QRID == "" {
		writeError(w, r, http.StatusBadRequest, "qr_id is required")
		return
	}
	dev, ok := a.device(w, r, req.DeviceID)
	if !ok {
		return
	}
	resolution, err := a.submitter.ResolveTasks(r.Context(), req.QRID, dev)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	tasks := resolution.Tasks
	if tasks == nil {
		tasks = []erp.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// ProcessPhoto accepts a captured photo plus QR scan text and, when exactly
// one work order matches, enqueues the submission as a background job. The
// caller polls the returned job id for the authoritative outcome.
func (a *API) ProcessPhoto(w http.ResponseWriter, r *http.Request) {
	in, dev, ok := a.fixationInput(w, r)
	if !ok {
		return
	}
	ctx := audit.WithDeviceID(r.Context(), dev.ID())

	if !dev.IsValidAt(time.Now()) {
		writeError(w, r, http.StatusUnauthorized, "device session is not authenticated")
		return
	}
	resolution, err := a.submitter.ResolveTasks(ctx, in.QRText, dev)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	switch resolution.Kind {
	case erp.None:
		writeError(w, r, http.StatusNotFound, "no work order is linked to this QR code")
		return
	case erp.Many:
		writeJSON(w, http.StatusOK, map[string]any{
			"outcome": incidence.OutcomeAmbiguousTasks,
			"tasks":   resolution.Tasks,
			"count":   len(resolution.Tasks),
		})
		return
	}

	job, err := a.runner.EnqueueFixation(ctx, in, dev)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not enqueue submission")
		return
	}
	_ = audit.LogEvent(ctx, "fixation.enqueued", map[string]any{"job_id": job.ID})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ProcessPhotoWithTask submits a photo against an explicitly chosen work
// order, synchronously.
func (a *API) ProcessPhotoWithTask(w http.ResponseWriter, r *http.Request) {
	in, dev, ok := a.fixationInput(w, r)
	if !ok {
		return
	}
	if len(in.Selected) == 0 {
		writeError(w, r, http.StatusBadRequest, "selected_task is required")
		return
	}
	ctx := audit.WithDeviceID(r.Context(), dev.ID())
	res := a.submitter.SubmitFixation(ctx, in, dev)
	_ = audit.LogEvent(ctx, "fixation.submitted", map[string]any{"outcome": string(res.Outcome)})
	writeJSON(w, outcomeStatus(res.Outcome), res)
}

// fixationInput parses the multipart photo submission shared by both
// process-photo variants: qr_data plus either an image file part or an
// image_data base64 field.
func (a *API) fixationInput(w http.ResponseWriter, r *http.Request) (incidence.FixationInput, *session.Device, bool) {
	const maxMemory = 32 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, r, http.StatusBadRequest, "expected multipart form data")
		return incidence.FixationInput{}, nil, false
	}
	dev, ok := a.device(w, r, r.FormValue("device_id"))
	if !ok {
		return incidence.FixationInput{}, nil, false
	}

	in := incidence.FixationInput{QRText: r.FormValue("qr_data")}
	if in.QRText == "" {
		writeError(w, r, http.StatusBadRequest, "qr_data is required")
		return incidence.FixationInput{}, nil, false
	}
	if sel := r.FormValue("selected_task"); sel != "" {
		in.Selected = json.RawMessage(sel)
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			writeError(w, r, http.StatusBadRequest, "could not read image part")
			return incidence.FixationInput{}, nil, false
		}
		in.Photo = incidence.Asset{
			Data:     base64.StdEncoding.EncodeToString(data),
			Filename: photoName(header.Filename),
		}
	case r.FormValue("image_data") != "":
		in.Photo = incidence.Asset{
			Data:     r.FormValue("image_data"),
			Filename: photoName(r.FormValue("filename")),
		}
	default:
		writeError(w, r, http.StatusBadRequest, "an image file or image_data field is required")
		return incidence.FixationInput{}, nil, false
	}
	return in, dev, true
}

func photoName(given string) string {
	if given != "" {
		return given
	}
	return ids.PhotoFilename(time.Now())
}

// outcomeStatus maps pipeline outcomes to HTTP codes. Ambiguity is a 200:
// the request itself succeeded, the caller just owes a decision.
func outcomeStatus(o incidence.Outcome) int {
	switch o {
	case incidence.OutcomeOK, incidence.OutcomeAmbiguousTasks:
		return http.StatusOK
	case incidence.OutcomeValidationFailed:
		return http.StatusUnprocessableEntity
	case incidence.OutcomeAuthRequired:
		return http.StatusUnauthorized
	case incidence.OutcomeNoTasks:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
