package incidence

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"incidencia/internal/config"
	"incidencia/internal/erp"
	"incidencia/internal/media"
	"incidencia/internal/obs"
	"incidencia/internal/qr"
	"incidencia/internal/session"
)

// resourcePrefix tags location identifiers coming from the mobile client;
// the ERP expects the bare identifier.
const resourcePrefix = "PARADA_"

// Submitter runs the submission pipeline end to end. It is safe for
// concurrent use; all per-device state lives on the session.
type Submitter struct {
	cfg   *config.Config
	erp   *erp.Client
	relay *media.Relay
	now   func() time.Time
}

// NewSubmitter wires the pipeline around its collaborators.
func NewSubmitter(cfg *config.Config, client *erp.Client, relay *media.Relay) *Submitter {
	return &Submitter{cfg: cfg, erp: client, relay: relay, now: time.Now}
}

// Submit runs the full incidence path: validate, require auth, rehost media,
// strip the resource prefix, post to the ERP. Steps run strictly in order;
// the first hard gate that fails ends the attempt without touching the
// network.
func (s *Submitter) Submit(ctx context.Context, p Payload, dev *session.Device) Result {
	if missing := p.missingFields(); len(missing) > 0 {
		return s.done("incidence", Result{
			Outcome: OutcomeValidationFailed,
			Message: "missing required fields: " + strings.Join(missing, ", "),
		})
	}
	if dev.UserID(s.now()) == "" {
		return s.done("incidence", Result{
			Outcome: OutcomeAuthRequired,
			Message: "device session is not authenticated",
		})
	}

	var warnings []string
	images := make([]erp.Document, 0, len(p.Images))
	for _, asset := range p.Images {
		doc, warn := s.rehostImage(ctx, asset)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		images = append(images, doc)
	}
	audio := make([]erp.AudioFile, 0, len(p.Audio))
	for _, asset := range p.Audio {
		file, warn := s.rehostAudio(ctx, asset)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		audio = append(audio, file)
	}

	rec := erp.IncidenceRecord{
		State:         p.State,
		IncidenceType: p.IncidenceType,
		Observation:   p.Observation,
		Description:   p.Description,
		Resource:      strings.TrimPrefix(p.Resource, resourcePrefix),
		Image:         images,
		Audio:         audio,
	}
	res, err := s.erp.SubmitIncidence(ctx, rec)
	if err != nil {
		return s.done("incidence", Result{
			Outcome:        OutcomeUpstreamFailed,
			Message:        err.Error(),
			Warnings:       warnings,
			UpstreamStatus: res.StatusCode,
			UpstreamBody:   res.Body,
		})
	}
	return s.done("incidence", Result{
		Outcome:        OutcomeOK,
		Warnings:       warnings,
		UpstreamStatus: res.StatusCode,
	})
}

// SubmitFixation runs the photo-to-task path. When no task was pre-selected
// it resolves the QR id first and branches on the candidate count: zero is a
// terminal failure, several hands the full list back to the caller, exactly
// one proceeds to the minimal record.
func (s *Submitter) SubmitFixation(ctx context.Context, in FixationInput, dev *session.Device) Result {
	if in.QRText == "" || in.Photo.Data == "" {
		return s.done("fixation", Result{
			Outcome: OutcomeValidationFailed,
			Message: "qrtext and photo are required",
		})
	}
	userID := dev.UserID(s.now())
	if userID == "" {
		return s.done("fixation", Result{
			Outcome: OutcomeAuthRequired,
			Message: "device session is not authenticated",
		})
	}
	qrID := qr.ExtractID(in.QRText)

	task, res := s.selectTask(ctx, qrID, in.Selected, dev)
	if res != nil {
		return s.done("fixation", *res)
	}

	payload, sizeMB := s.preparePhoto(in.Photo)
	var warnings []string

	doc := erp.DocumentBody{Name: in.Photo.Filename}
	hosted, err := s.relay.Upload(ctx, payload, in.Photo.Filename)
	switch {
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("relay failed for %s, sending inline: %v", in.Photo.Filename, err))
		doc.File = payload
	default:
		doc.URL = hosted.URL
		doc.FileID = hosted.ID
	}

	rec := erp.FixationRecord{
		QRTarea:    qrID,
		IDNavision: task.IDNavision,
		Empresa:    task.Empresa,
		User:       userID,
		Document:   []erp.Document{{Document: doc}},
	}
	submitRes, err := s.erp.SubmitFixation(ctx, rec, sizeMB)
	if err != nil {
		s.rollback(ctx, hosted.ID)
		return s.done("fixation", Result{
			Outcome:        OutcomeUpstreamFailed,
			Message:        err.Error(),
			Warnings:       warnings,
			UpstreamStatus: submitRes.StatusCode,
			UpstreamBody:   submitRes.Body,
		})
	}
	return s.done("fixation", Result{
		Outcome:        OutcomeOK,
		Warnings:       warnings,
		UpstreamStatus: submitRes.StatusCode,
	})
}

// ResolveTasks looks up the candidate work orders for a raw QR text through
// the device's cache. The candidate list reaches the caller verbatim,
// whatever fields the resolver attached.
func (s *Submitter) ResolveTasks(ctx context.Context, qrText string, dev *session.Device) (erp.Resolution, error) {
	qrID := qr.ExtractID(qrText)
	ttl := time.Duration(s.cfg.Sessions.TaskCacheTTL) * time.Minute
	if tasks, ok := dev.CachedTasks(qrID, ttl, s.now()); ok {
		return erp.Resolve(tasks), nil
	}
	resolution, err := s.erp.TasksByQR(ctx, qrID)
	if err != nil {
		return erp.Resolution{}, err
	}
	dev.StoreTasks(qrID, resolution.Tasks, s.now())
	return resolution, nil
}

// selectTask picks the work order for a fixation: a pre-selected task wins,
// otherwise the QR id is resolved and the candidate count decides. A non-nil
// Result ends the flow.
func (s *Submitter) selectTask(ctx context.Context, qrID string, selected json.RawMessage, dev *session.Device) (erp.Task, *Result) {
	if len(selected) > 0 {
		var task erp.Task
		if err := json.Unmarshal(selected, &task); err != nil || !task.Valid() {
			return erp.Task{}, &Result{
				Outcome: OutcomeValidationFailed,
				Message: "selected task is malformed or incomplete",
			}
		}
		return task, nil
	}

	ttl := time.Duration(s.cfg.Sessions.TaskCacheTTL) * time.Minute
	var resolution erp.Resolution
	if tasks, ok := dev.CachedTasks(qrID, ttl, s.now()); ok {
		resolution = erp.Resolve(tasks)
	} else {
		var err error
		resolution, err = s.erp.TasksByQR(ctx, qrID)
		if err != nil {
			return erp.Task{}, &Result{Outcome: OutcomeUpstreamFailed, Message: err.Error()}
		}
		dev.StoreTasks(qrID, resolution.Tasks, s.now())
	}

	switch resolution.Kind {
	case erp.None:
		return erp.Task{}, &Result{
			Outcome: OutcomeNoTasks,
			Message: "no work order is linked to " + qrID,
		}
	case erp.Many:
		return erp.Task{}, &Result{
			Outcome: OutcomeAmbiguousTasks,
			Message: "several work orders match, pick one",
			Tasks:   resolution.Tasks,
		}
	default:
		return resolution.Task(), nil
	}
}

// rehostImage turns one image asset into an ERP document, compressing
// oversized inline payloads first. A relay failure degrades to the inline
// payload so the record still reaches the ERP.
func (s *Submitter) rehostImage(ctx context.Context, asset Asset) (erp.Document, string) {
	payload, _ := s.preparePhoto(asset)
	body := erp.DocumentBody{Name: asset.Filename}
	hosted, err := s.relay.Upload(ctx, payload, asset.Filename)
	if err != nil {
		body.File = payload
		return erp.Document{Document: body}, fmt.Sprintf("relay failed for %s, sending inline: %v", asset.Filename, err)
	}
	body.URL = hosted.URL
	body.FileID = hosted.ID
	return erp.Document{Document: body}, ""
}

func (s *Submitter) rehostAudio(ctx context.Context, asset Asset) (erp.AudioFile, string) {
	file := erp.AudioFile{Name: asset.Filename}
	hosted, err := s.relay.Upload(ctx, asset.Data, asset.Filename)
	if err != nil {
		file.File = asset.Data
		return file, fmt.Sprintf("relay failed for %s, sending inline: %v", asset.Filename, err)
	}
	file.File = hosted.URL
	file.FileID = hosted.ID
	return file, ""
}

// preparePhoto reduces an oversized inline photo to the configured JPEG
// quality and reports the decoded size used for timeout scaling. Hosted
// URLs and undecodable payloads pass through untouched.
func (s *Submitter) preparePhoto(asset Asset) (string, float64) {
	if media.IsURL(asset.Data) {
		return asset.Data, 0
	}
	raw, err := media.StripToBase64(asset.Data)
	if err != nil {
		return asset.Data, 0
	}
	sizeMB := media.DecodedSizeMB(len(raw))
	if !s.cfg.Compression.Enabled || sizeMB <= float64(s.cfg.Compression.MaxSizeMB) {
		return asset.Data, sizeMB
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return asset.Data, sizeMB
	}
	shrunk := media.Compress(decoded, s.cfg.Compression.Quality, s.cfg.Compression.MaxSizeMB)
	return media.NormalizeBytes(shrunk, asset.Filename), float64(len(shrunk)) / (1024 * 1024)
}

// rollback best-effort deletes a hosted blob after a failed ERP submit so
// the storage service does not accumulate orphans.
func (s *Submitter) rollback(ctx context.Context, storageID string) {
	if storageID == "" {
		return
	}
	if err := s.relay.Delete(ctx, storageID); err != nil && !errors.Is(err, context.Canceled) {
		obs.Warn("rollback delete failed", map[string]any{"storage_id": storageID, "error": err.Error()})
	}
}

func (s *Submitter) done(path string, r Result) Result {
	obs.ObserveSubmission(path, string(r.Outcome))
	return r
}

// missingFields lists the mandatory payload fields that are absent.
func (p Payload) missingFields() []string {
	var missing []string
	if strings.TrimSpace(p.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(p.IncidenceType) == "" {
		missing = append(missing, "incidence_type")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	return missing
}
