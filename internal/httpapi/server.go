// Package httpapi is the HTTP surface of the gateway. Routing is explicit
// per method; all responses are JSON except the SSE job stream.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"incidencia/internal/config"
	"incidencia/internal/gtask"
	"incidencia/internal/incidence"
	"incidencia/internal/jobs"
	"incidencia/internal/media"
	"incidencia/internal/obs"
	"incidencia/internal/session"
	"incidencia/internal/stream"
)

// API is the HTTP layer.
type API struct {
	cfg       *config.Config
	router    *mux.Router
	sessions  *session.Registry
	submitter *incidence.Submitter
	identity  *gtask.Client
	relay     *media.Relay
	runner    *jobs.Runner
	store     *jobs.Store
	events    *stream.Stream
	version   string
	startedAt time.Time

	rateBurst  int
	ratePerSec int
}

// Deps bundles the collaborators the API routes to.
type Deps struct {
	Config    *config.Config
	Sessions  *session.Registry
	Submitter *incidence.Submitter
	Identity  *gtask.Client
	Relay     *media.Relay
	Runner    *jobs.Runner
	Store     *jobs.Store
	Events    *stream.Stream
	Version   string
}

// New wires the router.
func New(d Deps) *API {
	a := &API{
		cfg:        d.Config,
		router:     mux.NewRouter(),
		sessions:   d.Sessions,
		submitter:  d.Submitter,
		identity:   d.Identity,
		relay:      d.Relay,
		runner:     d.Runner,
		store:      d.Store,
		events:     d.Events,
		version:    d.Version,
		startedAt:  time.Now().UTC(),
		rateBurst:  d.Config.Server.RateLimitBurst,
		ratePerSec: d.Config.Server.RateLimitPerSec,
	}

	r := a.router
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", a.Login).Methods(http.MethodPost)
	api.HandleFunc("/logout", a.Logout).Methods(http.MethodPost)
	api.HandleFunc("/users", a.Users).Methods(http.MethodGet)
	api.HandleFunc("/status", a.Status).Methods(http.MethodGet)
	api.HandleFunc("/storage-info", a.StorageInfo).Methods(http.MethodGet)

	api.HandleFunc("/incidences", a.SubmitIncidence).Methods(http.MethodPost)
	api.HandleFunc("/process-photo", a.ProcessPhoto).Methods(http.MethodPost)
	api.HandleFunc("/process-photo-with-task", a.ProcessPhotoWithTask).Methods(http.MethodPost)
	api.HandleFunc("/get-tasks-by-qr", a.TasksByQR).Methods(http.MethodPost)
	api.HandleFunc("/incidence-types", a.IncidenceTypes).Methods(http.MethodGet)

	api.HandleFunc("/convert-photo-to-url", a.ConvertToURL).Methods(http.MethodPost)
	api.HandleFunc("/delete-photo-url", a.DeleteURL).Methods(http.MethodPost)

	api.HandleFunc("/jobs", a.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/stream", a.JobStream).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", a.GetJob).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	maxBody := int64(a.cfg.Server.MaxBodyMB) << 20
	var h http.Handler = a.router
	h = MaxBodyBytes(h, maxBody)
	h = a.touchSessions(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// touchSessions refreshes the caller's session activity whenever a request
// carries the device header, so streaming and polling endpoints keep a
// session out of the sweeper's reach. Unknown devices are not created here.
func (a *API) touchSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(session.DeviceHeader); id != "" {
			a.sessions.Touch(id)
		}
		next.ServeHTTP(w, r)
	})
}

// device resolves the calling device's session. bodyID carries an id parsed
// from the request body when the endpoint accepts one there.
func (a *API) device(w http.ResponseWriter, r *http.Request, bodyID string) (*session.Device, bool) {
	id, err := session.DeviceID(r, bodyID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "device id is required (X-Device-ID header or device_id field)")
		return nil, false
	}
	dev, err := a.sessions.GetOrCreate(id)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return dev, true
}
