package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rsai-cli/internal/calcerr"
	"github.com/sells-group/rsai-cli/internal/geo"
	"github.com/sells-group/rsai-cli/internal/index"
	"github.com/sells-group/rsai-cli/internal/jobs"
	"github.com/sells-group/rsai-cli/internal/model"
	"github.com/sells-group/rsai-cli/internal/pipeline"
	"github.com/sells-group/rsai-cli/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// apiServer holds the dependencies of the HTTP handlers.
type apiServer struct {
	store      store.Store
	pipeline   *pipeline.Pipeline
	runner     *jobs.Runner
	gatherer   prometheus.Gatherer
	maxCompare int
	confidence float64
}

type cbsaRequest struct {
	CBSAID string `json:"cbsa_id"`
}

type batchRequest struct {
	CBSAIDs []string `json:"cbsa_ids"`
}

type distancesRequest struct {
	CBSAID string `json:"cbsa_id"`
	Method string `json:"method,omitempty"`
	Tract  string `json:"tract_id,omitempty"`
	K      int    `json:"k,omitempty"`
}

type rebaseRequest struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
	Save   bool    `json:"save,omitempty"`
}

type seriesPoint struct {
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

type benchmarkRequest struct {
	Name   string        `json:"name"`
	Values []seriesPoint `json:"values"`
}

type indexJobResult struct {
	Series      *model.IndexTimeSeries `json:"series"`
	Supertracts int                    `json:"supertracts"`
	Pairs       int                    `json:"pairs"`
	Unassigned  int                    `json:"unassigned"`
	Excluded    map[string]int         `json:"excluded,omitempty"`
	Revisions   int                    `json:"revisions"`
	ElapsedMS   int64                  `json:"elapsed_ms"`
}

func (a *apiServer) health(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			writeResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *apiServer) distances(w http.ResponseWriter, r *http.Request) {
	var req distancesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CBSAID == "" {
		writeError(w, calcerr.Validation("distances", "", "cbsa_id is required"))
		return
	}
	method := geo.MethodGreatCircle
	if req.Method != "" {
		m, err := geo.ParseMethod(req.Method)
		if err != nil {
			writeError(w, err)
			return
		}
		method = m
	}

	tracts, err := a.store.ListTracts(r.Context(), req.CBSAID)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := geo.CalculateDistances(tracts, method)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Tract != "" {
		nn, err := m.Nearest(req.Tract, req.K)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, map[string]any{"tract_id": req.Tract, "method": method, "neighbors": nn})
		return
	}
	writeResponse(w, http.StatusOK, map[string]any{"method": method, "tracts": m.Len(), "distances": m.Entries()})
}

func (a *apiServer) submitSupertracts(w http.ResponseWriter, r *http.Request) {
	a.submitForCBSA(w, r, model.JobKindSupertracts)
}

func (a *apiServer) submitIndex(w http.ResponseWriter, r *http.Request) {
	a.submitForCBSA(w, r, model.JobKindIndex)
}

func (a *apiServer) submitForCBSA(w http.ResponseWriter, r *http.Request, kind model.JobKind) {
	var req cbsaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CBSAID == "" {
		writeError(w, calcerr.Validation(string(kind), "", "cbsa_id is required"))
		return
	}
	job, err := a.runner.Submit(r.Context(), kind, req.CBSAID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusAccepted, job)
}

func (a *apiServer) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.CBSAIDs) == 0 {
		writeError(w, calcerr.Validation("batch", "", "cbsa_ids is required"))
		return
	}
	if len(req.CBSAIDs) > pipeline.MaxBatch {
		writeError(w, calcerr.Capacity("batch", len(req.CBSAIDs), pipeline.MaxBatch))
		return
	}
	job, err := a.runner.Submit(r.Context(), model.JobKindBatch, batchKey(req.CBSAIDs), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusAccepted, job)
}

func (a *apiServer) listSupertracts(w http.ResponseWriter, r *http.Request) {
	defs, err := a.store.ListSupertracts(r.Context(), chi.URLParam(r, "cbsa"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, defs)
}

func (a *apiServer) loadSeries(ctx context.Context, r *http.Request) (*model.IndexTimeSeries, error) {
	cbsa := chi.URLParam(r, "cbsa")
	o := calcOverrides{
		Scheme:    r.URL.Query().Get("scheme"),
		Frequency: r.URL.Query().Get("frequency"),
	}
	opts := a.pipeline.Options()
	if err := applyOverrides(&opts, o); err != nil {
		return nil, err
	}
	s, err := a.store.GetIndexSeries(ctx, store.SeriesKey{GeographyID: cbsa, Scheme: opts.Scheme, Frequency: opts.Frequency})
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, eris.Wrapf(errSeriesNotFound, "%s %s %s", cbsa, opts.Scheme, opts.Frequency)
	}
	return s, nil
}

var errSeriesNotFound = errors.New("index series not found")

func (a *apiServer) getIndex(w http.ResponseWriter, r *http.Request) {
	s, err := a.loadSeries(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, map[string]any{
		"geography_id": s.GeographyID,
		"scheme":       s.Scheme,
		"frequency":    s.Frequency,
		"base_period":  s.BasePeriod.Key(),
		"base_value":   s.BaseValue,
		"values":       s.IndexValues(a.confidence),
		"summary":      s.Summary(),
	})
}

func (a *apiServer) rebase(w http.ResponseWriter, r *http.Request) {
	var req rebaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, err := model.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := a.loadSeries(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	rebased, err := index.Rebase(*s, period, req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Save {
		if err := a.store.SaveIndexSeries(r.Context(), rebased); err != nil {
			writeError(w, err)
			return
		}
	}
	writeResponse(w, http.StatusOK, rebased)
}

func (a *apiServer) benchmark(w http.ResponseWriter, r *http.Request) {
	var req benchmarkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		req.Name = "benchmark"
	}
	bench, err := seriesFromRows(req.Name, req.Values)
	if err != nil {
		writeError(w, err)
		return
	}
	ours, err := a.loadSeries(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := index.CompareToBenchmark(*ours, *bench, ours.GeographyID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, res)
}

func (a *apiServer) compare(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.CBSAIDs) > a.maxCompare {
		writeError(w, calcerr.Capacity("compare", len(req.CBSAIDs), a.maxCompare))
		return
	}
	opts := a.pipeline.Options()
	if err := applyOverrides(&opts, calcOverrides{
		Scheme:    r.URL.Query().Get("scheme"),
		Frequency: r.URL.Query().Get("frequency"),
	}); err != nil {
		writeError(w, err)
		return
	}
	series := make([]model.IndexTimeSeries, 0, len(req.CBSAIDs))
	for _, id := range req.CBSAIDs {
		s, err := a.store.GetIndexSeries(r.Context(), store.SeriesKey{GeographyID: id, Scheme: opts.Scheme, Frequency: opts.Frequency})
		if err != nil {
			writeError(w, err)
			return
		}
		if s == nil {
			writeError(w, eris.Wrapf(errSeriesNotFound, "%s", id))
			return
		}
		series = append(series, *s)
	}
	res, err := index.Compare(series...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, res)
}

func (a *apiServer) revisions(w http.ResponseWriter, r *http.Request) {
	revs, err := a.store.ListRevisions(r.Context(), chi.URLParam(r, "cbsa"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, revs)
}

func (a *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.runner.List(r.Context(), store.JobFilter{
		Status: model.JobStatus(q.Get("status")),
		Kind:   model.JobKind(q.Get("kind")),
		Key:    q.Get("key"),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, list)
}

func (a *apiServer) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.runner.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusOK, job)
}

func (a *apiServer) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.runner.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeResponse(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": id})
}

// seriesFromRows builds a series from posted period/value rows.
func seriesFromRows(name string, rows []seriesPoint) (*model.IndexTimeSeries, error) {
	if len(rows) == 0 {
		return nil, calcerr.Validation("benchmark", name, "values are required")
	}
	s := &model.IndexTimeSeries{GeographyID: name}
	for _, row := range rows {
		p, err := model.ParsePeriod(row.Period)
		if err != nil {
			return nil, err
		}
		if s.Frequency == "" {
			s.Frequency = p.Frequency
		}
		s.Periods = append(s.Periods, p)
		s.Values = append(s.Values, row.Value)
	}
	s.BasePeriod, s.BaseValue = s.Periods[0], s.Values[0]
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, errSeriesNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrKeyBusy), errors.Is(err, jobs.ErrFinished):
		return http.StatusConflict
	}
	switch calcerr.KindOf(err) {
	case calcerr.KindValidation, calcerr.KindSameEntity:
		return http.StatusBadRequest
	case calcerr.KindCapacity:
		return http.StatusRequestEntityTooLarge
	case calcerr.KindInsufficientData, calcerr.KindConvergence:
		return http.StatusUnprocessableEntity
	case calcerr.KindCancelled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if kind := calcerr.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("api request failed", zap.Error(err))
	}
	writeResponse(w, status, body)
}

func writeResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
