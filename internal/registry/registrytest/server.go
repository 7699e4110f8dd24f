// Package registrytest provides an in-memory MLflow tracking server for tests.
package registrytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"fraud-detection-pipeline/internal/registry"
)

// Server fakes the subset of the MLflow REST API the registry client uses.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	experiments map[string]string
	runs        map[string]*registry.RunInfo
	params      map[string][]registry.Param
	metrics     map[string][]registry.Metric
	artifacts   map[string][]byte
	models      map[string]bool
	versions    map[string][]registry.ModelVersion
	aliases     map[string]map[string]string
	nextID      int

	// FailPaths makes requests whose path contains any of these strings fail with a 500.
	FailPaths []string
}

// NewServer starts a fake tracking server closed at the end of the test.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		experiments: map[string]string{},
		runs:        map[string]*registry.RunInfo{},
		params:      map[string][]registry.Param{},
		metrics:     map[string][]registry.Metric{},
		artifacts:   map[string][]byte{},
		models:      map[string]bool{},
		versions:    map[string][]registry.ModelVersion{},
		aliases:     map[string]map[string]string{},
	}

	const api = "/api/2.0/mlflow"
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api+"/experiments/get-by-name", s.getExperiment)
	mux.HandleFunc("POST "+api+"/experiments/create", s.createExperiment)
	mux.HandleFunc("POST "+api+"/runs/create", s.createRun)
	mux.HandleFunc("GET "+api+"/runs/get", s.getRun)
	mux.HandleFunc("POST "+api+"/runs/update", s.updateRun)
	mux.HandleFunc("POST "+api+"/runs/log-batch", s.logBatch)
	mux.HandleFunc("POST "+api+"/registered-models/create", s.createModel)
	mux.HandleFunc("POST "+api+"/model-versions/create", s.createVersion)
	mux.HandleFunc("GET "+api+"/model-versions/search", s.searchVersions)
	mux.HandleFunc("GET "+api+"/model-versions/get", s.getVersion)
	mux.HandleFunc("POST "+api+"/registered-models/alias", s.setAlias)
	mux.HandleFunc("GET "+api+"/registered-models/alias", s.getAlias)
	mux.HandleFunc("PUT /api/2.0/mlflow-artifacts/artifacts/{path...}", s.putArtifact)
	mux.HandleFunc("GET /api/2.0/mlflow-artifacts/artifacts/{path...}", s.getArtifact)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range s.FailPaths {
			if strings.Contains(r.URL.Path, p) {
				http.Error(w, "injected failure", http.StatusInternalServerError)
				return
			}
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)

	return s
}

// Client returns a registry client pointed at the server.
func (s *Server) Client(t *testing.T) *registry.Client {
	t.Helper()
	c, err := registry.NewClient(s.Server.Client(), s.URL)
	if err != nil {
		t.Fatalf("failed to create registry client: %v", err)
	}
	return c
}

// AddVersion registers a model version directly, as if a trainer had created it.
func (s *Server) AddVersion(name, source string) registry.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addVersionLocked(name, source, "")
}

// PutArtifact stores an artifact under an mlflow-artifacts path such as "1/run/artifacts/x".
func (s *Server) PutArtifact(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[path] = data
}

// Artifact returns a stored artifact.
func (s *Server) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.artifacts[path]
	return data, ok
}

// ArtifactPaths lists every stored artifact path.
func (s *Server) ArtifactPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.artifacts))
	for p := range s.artifacts {
		paths = append(paths, p)
	}
	return paths
}

// Run returns a run's metadata.
func (s *Server) Run(id string) (registry.RunInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[id]
	if !ok {
		return registry.RunInfo{}, false
	}
	return *info, true
}

// Runs returns every run id.
func (s *Server) Runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// Params returns the params logged on a run.
func (s *Server) Params(runID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, p := range s.params[runID] {
		out[p.Key] = p.Value
	}
	return out
}

// Metrics returns the last value of every metric logged on a run.
func (s *Server) Metrics(runID string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]float64{}
	for _, m := range s.metrics[runID] {
		out[m.Key] = m.Value
	}
	return out
}

// Versions returns the versions of a registered model.
func (s *Server) Versions(name string) []registry.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.ModelVersion(nil), s.versions[name]...)
}

// Alias returns the version an alias points at.
func (s *Server) Alias(name, alias string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.aliases[name][alias]
	return v, ok
}

func (s *Server) id() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *Server) addVersionLocked(name, source, runID string) registry.ModelVersion {
	s.models[name] = true
	v := registry.ModelVersion{
		Name:    name,
		Version: strconv.Itoa(len(s.versions[name]) + 1),
		Source:  source,
		RunID:   runID,
		Status:  "READY",
	}
	s.versions[name] = append(s.versions[name], v)
	return v
}

func (s *Server) getExperiment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.URL.Query().Get("experiment_name")
	id, ok := s.experiments[name]
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no experiment "+name)
		return
	}
	writeJSON(w, map[string]any{"experiment": registry.Experiment{ID: id, Name: name}})
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[req.Name]; ok {
		writeError(w, http.StatusBadRequest, registry.CodeResourceAlreadyExists, "experiment exists")
		return
	}
	id := s.id()
	s.experiments[req.Name] = id
	writeJSON(w, map[string]string{"experiment_id": id})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	runID := "run" + s.id()
	info := &registry.RunInfo{
		RunID:        runID,
		RunName:      req.RunName,
		ExperimentID: req.ExperimentID,
		Status:       registry.RunRunning,
		ArtifactURI:  fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", req.ExperimentID, runID),
		StartTime:    req.StartTime,
	}
	s.runs[runID] = info
	writeJSON(w, map[string]any{"run": registry.Run{Info: *info}})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[r.URL.Query().Get("run_id")]
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no run")
		return
	}
	writeJSON(w, map[string]any{"run": registry.Run{Info: *info}})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[req.RunID]
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no run")
		return
	}
	info.Status = req.Status
	info.EndTime = req.EndTime
	writeJSON(w, map[string]any{"run_info": info})
}

func (s *Server) logBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string            `json:"run_id"`
		Metrics []registry.Metric `json:"metrics"`
		Params  []registry.Param  `json:"params"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[req.RunID]; !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no run")
		return
	}
	s.params[req.RunID] = append(s.params[req.RunID], req.Params...)
	s.metrics[req.RunID] = append(s.metrics[req.RunID], req.Metrics...)
	writeJSON(w, struct{}{})
}

func (s *Server) createModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models[req.Name] {
		writeError(w, http.StatusBadRequest, registry.CodeResourceAlreadyExists, "model exists")
		return
	}
	s.models[req.Name] = true
	writeJSON(w, map[string]any{"registered_model": map[string]string{"name": req.Name}})
}

func (s *Server) createVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Source string `json:"source"`
		RunID  string `json:"run_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.models[req.Name] {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no model")
		return
	}
	v := s.addVersionLocked(req.Name, req.Source, req.RunID)
	writeJSON(w, map[string]any{"model_version": v})
}

func (s *Server) searchVersions(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	name := strings.TrimSuffix(strings.TrimPrefix(filter, "name='"), "'")
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, map[string]any{"model_versions": s.withAliases(name, s.versions[name])})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.withAliases(q.Get("name"), s.versions[q.Get("name")]) {
		if v.Version == q.Get("version") {
			writeJSON(w, map[string]any{"model_version": v})
			return
		}
	}
	writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no version")
}

func (s *Server) setAlias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Alias   string `json:"alias"`
		Version string `json:"version"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, v := range s.versions[req.Name] {
		found = found || v.Version == req.Version
	}
	if !found {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no version")
		return
	}
	if s.aliases[req.Name] == nil {
		s.aliases[req.Name] = map[string]string{}
	}
	s.aliases[req.Name][req.Alias] = req.Version
	writeJSON(w, struct{}{})
}

func (s *Server) getAlias(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.aliases[q.Get("name")][q.Get("alias")]
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "alias not set")
		return
	}
	for _, v := range s.withAliases(q.Get("name"), s.versions[q.Get("name")]) {
		if v.Version == version {
			writeJSON(w, map[string]any{"model_version": v})
			return
		}
	}
	writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no version")
}

func (s *Server) withAliases(name string, versions []registry.ModelVersion) []registry.ModelVersion {
	out := make([]registry.ModelVersion, len(versions))
	for i, v := range versions {
		v.Aliases = nil
		for alias, target := range s.aliases[name] {
			if target == v.Version {
				v.Aliases = append(v.Aliases, alias)
			}
		}
		out[i] = v
	}
	return out
}

func (s *Server) putArtifact(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.PutArtifact(r.PathValue("path"), data)
	writeJSON(w, struct{}{})
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	data, ok := s.Artifact(r.PathValue("path"))
	if !ok {
		writeError(w, http.StatusNotFound, registry.CodeResourceDoesNotExist, "no artifact")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error_code": code, "message": message})
}
