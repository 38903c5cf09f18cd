package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/deepdive/internal/drilldown"
	"github.com/AngelCh415/deepdive/internal/filter"
	"github.com/AngelCh415/deepdive/internal/ingest"
	"github.com/AngelCh415/deepdive/internal/metrics"
	"github.com/AngelCh415/deepdive/internal/models"
	"github.com/AngelCh415/deepdive/internal/perspective"
	"github.com/AngelCh415/deepdive/internal/presets"
	"github.com/AngelCh415/deepdive/internal/session"
	"github.com/AngelCh415/deepdive/internal/utils"
)

type Deps struct {
	Log      *slog.Logger
	Registry *perspective.Registry
	Sessions *session.Manager
	Presets  *presets.Store
	// Loader is optional; without it /ingest/run answers 503.
	Loader   *ingest.Loader
	Gatherer prometheus.Gatherer
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type router struct {
	Deps
	validate *validator.Validate
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	rt := &router{Deps: d, validate: validator.New()}

	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(d.Log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", rt.readyz)
	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Get("/perspectives", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, d.Registry.All()) })
	mux.Post("/ingest/run", rt.ingest)

	mux.Route("/sessions", func(s chi.Router) {
		s.Post("/", rt.createSession)
		s.Route("/{id}", func(s chi.Router) {
			s.Get("/", rt.getSession)
			s.Delete("/", rt.deleteSession)
			s.Post("/drill", rt.drill)
			s.Post("/back", rt.back)
			s.Put("/perspective", rt.setPerspective)
			s.Put("/periods", rt.setPeriods)
			s.Put("/filters", rt.setFilters)
			s.Post("/refresh", rt.refresh)
			s.Post("/presets/{name}/apply", rt.applyPreset)
		})
	})

	mux.Route("/presets", func(p chi.Router) {
		p.Get("/", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, 200, d.Presets.List()) })
		p.Get("/{name}", rt.getPreset)
		p.Put("/{name}", rt.putPreset)
		p.Delete("/{name}", rt.deletePreset)
	})

	return mux
}

func (rt *router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.Ready(ctx); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func (rt *router) ingest(w http.ResponseWriter, r *http.Request) {
	if rt.Loader == nil {
		writeError(w, ingest.ErrNotConfigured, http.StatusBadRequest)
		return
	}
	var since *time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		t, err := time.Parse(models.DateLayout, q)
		if err != nil {
			http.Error(w, "bad since date (YYYY-MM-DD)", 400)
			return
		}
		since = &t
	}
	res, err := rt.Loader.Run(r.Context(), since)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type createSessionReq struct {
	Perspective perspective.ID      `json:"perspective" validate:"required"`
	Period1     *models.PeriodRange `json:"period1" validate:"required"`
	Period2     *models.PeriodRange `json:"period2" validate:"required"`
}

type drillReq struct {
	Child       perspective.ID `json:"child" validate:"required"`
	EntityID    string         `json:"entity_id" validate:"required"`
	DisplayName string         `json:"display_name"`
}

type perspectiveReq struct {
	Perspective perspective.ID `json:"perspective" validate:"required"`
}

type periodsReq struct {
	Period1 *models.PeriodRange `json:"period1" validate:"required"`
	Period2 *models.PeriodRange `json:"period2" validate:"required"`
}

type filtersReq struct {
	Selection filter.Scope `json:"selection"`
	Where     *filter.Node `json:"where"`
}

type presetReq struct {
	Perspective perspective.ID `json:"perspective" validate:"required"`
	Selection   filter.Scope   `json:"selection"`
	Where       *filter.Node   `json:"where"`
}

type sessionResp struct {
	ID    string          `json:"id"`
	State drilldown.State `json:"state"`
}

// viewResp is a published view with its table shaped by the query string.
type viewResp struct {
	drilldown.State
	Seq       uint64         `json:"seq"`
	FromCache bool           `json:"from_cache"`
	FetchedAt time.Time      `json:"fetched_at"`
	Summary   models.Summary `json:"summary"`
	Table     *metrics.Page  `json:"table,omitempty"`
	Segments  []segmentResp  `json:"segments,omitempty"`
	// Error is set when the latest load failed and this view is the last
	// good one, which may not match the session's current state.
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type segmentResp struct {
	EntityID string         `json:"entity_id"`
	Summary  models.Summary `json:"summary"`
	Table    metrics.Page   `json:"table"`
}

func shape(v drilldown.View, q metrics.TableQuery) viewResp {
	out := viewResp{State: v.State, Seq: v.Seq, FromCache: v.FromCache, FetchedAt: v.FetchedAt, Summary: v.Summary}
	if v.Mode == drilldown.ModeSegmented {
		for _, s := range v.Segments {
			out.Segments = append(out.Segments, segmentResp{EntityID: s.EntityID, Summary: s.Summary, Table: q.Apply(s.Records)})
		}
		return out
	}
	page := q.Apply(v.Records)
	out.Table = &page
	return out
}

func (rt *router) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if !rt.decode(w, r, &req) {
		return
	}
	id, ctl, err := rt.Sessions.Create(req.Perspective, *req.Period1, *req.Period2)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResp{ID: id.String(), State: ctl.State()})
}

// getSession returns the last published view, loading it on first access.
func (rt *router) getSession(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	if v, ok := ctl.View(); ok {
		out := shape(v, metrics.ParseTableQuery(r.URL.Query()))
		if err := ctl.Err(); err != nil {
			var ds *models.DataSourceError
			out.Error = err.Error()
			out.Retryable = errors.As(err, &ds)
		}
		writeJSON(w, 200, out)
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(ctl.Refresh(r.Context()))
}

func (rt *router) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, session.ErrNotFound, http.StatusBadRequest)
		return
	}
	if err := rt.Sessions.Delete(id); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) drill(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req drillReq
	if !rt.decode(w, r, &req) {
		return
	}
	rt.respond(w, r, http.StatusConflict)(ctl.DrillDown(r.Context(), req.Child, req.EntityID, req.DisplayName))
}

func (rt *router) back(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	rt.respond(w, r, http.StatusConflict)(ctl.Back(r.Context()))
}

func (rt *router) setPerspective(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req perspectiveReq
	if !rt.decode(w, r, &req) {
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(ctl.SetPerspective(r.Context(), req.Perspective))
}

func (rt *router) setPeriods(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req periodsReq
	if !rt.decode(w, r, &req) {
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(ctl.SetPeriods(r.Context(), *req.Period1, *req.Period2))
}

func (rt *router) setFilters(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	var req filtersReq
	if !rt.decode(w, r, &req) {
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(ctl.SetFilters(r.Context(), req.Selection, req.Where))
}

func (rt *router) refresh(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(ctl.Refresh(r.Context()))
}

func (rt *router) applyPreset(w http.ResponseWriter, r *http.Request) {
	ctl, ok := rt.session(w, r)
	if !ok {
		return
	}
	rt.respond(w, r, http.StatusBadRequest)(rt.Presets.Apply(r.Context(), chi.URLParam(r, "name"), ctl))
}

func (rt *router) getPreset(w http.ResponseWriter, r *http.Request) {
	p, err := rt.Presets.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, 200, p)
}

func (rt *router) putPreset(w http.ResponseWriter, r *http.Request) {
	var req presetReq
	if !rt.decode(w, r, &req) {
		return
	}
	p, err := rt.Presets.Put(presets.Preset{
		Name:        chi.URLParam(r, "name"),
		Perspective: req.Perspective,
		Selection:   req.Selection,
		Where:       req.Where,
	})
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, 200, p)
}

func (rt *router) deletePreset(w http.ResponseWriter, r *http.Request) {
	if err := rt.Presets.Delete(chi.URLParam(r, "name")); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) session(w http.ResponseWriter, r *http.Request) (*drilldown.Controller, bool) {
	ctl, err := rt.Sessions.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return nil, false
	}
	return ctl, true
}

// respond writes the outcome of a controller event. invalid is the status
// used for an InvariantViolation.
func (rt *router) respond(w http.ResponseWriter, r *http.Request, invalid int) func(drilldown.View, error) {
	return func(v drilldown.View, err error) {
		if err != nil {
			rt.Log.Debug("event rejected", slog.String("path", r.URL.Path), slog.String("rid", utils.RID(r.Context())), slog.String("err", err.Error()))
			writeError(w, err, invalid)
			return
		}
		writeJSON(w, 200, shape(v, metrics.ParseTableQuery(r.URL.Query())))
	}
}

func (rt *router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request body: " + err.Error()})
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, err error, invalid int) {
	var iv *models.InvariantViolation
	var ds *models.DataSourceError
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, presets.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, drilldown.ErrStaleResult):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, ingest.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.As(err, &iv):
		writeJSON(w, invalid, errorBody{Error: err.Error()})
	case errors.As(err, &ds):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Retryable: true})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
