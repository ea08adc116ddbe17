package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"example.com/fitsgate/internal/catalog"
	"example.com/fitsgate/internal/common"
	"example.com/fitsgate/internal/fits"
	"example.com/fitsgate/internal/manifest"
	"example.com/fitsgate/internal/report"
)

// Server coordinates HTTP handlers and manages the FITS artifacts uploaded to
// or produced by the daemon.
type Server struct {
	artifacts  *ArtifactStore
	workDir    string
	uploadsDir string
	opts       Options
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// KeyIssue is a header keyword the daemon did not write.
type KeyIssue struct {
	Keyword string `json:"keyword"`
	Error   string `json:"error"`
}

// NewServer constructs a Server rooted at a fresh workspace directory under
// opts.StorageDir.
func NewServer(opts Options) (*Server, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.StorageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(opts.StorageDir, "fitsd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	return &Server{
		artifacts:  &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:    workDir,
		uploadsDir: uploadsDir,
		opts:       opts,
	}, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		ID:          uuid.New().String(),
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[art.ID] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

// artifactPath resolves the artifactId query parameter.
func (s *Server) artifactPath(r *http.Request) (Artifact, error) {
	id := strings.TrimSpace(r.URL.Query().Get("artifactId"))
	if id == "" {
		return Artifact{}, errors.New("artifactId required")
	}
	art, ok := s.getArtifact(id)
	if !ok {
		return Artifact{}, fmt.Errorf("unknown artifact %s: %w", id, fits.ErrNotFound)
	}
	return art, nil
}

// loadHDUs parses the artifact named by ?artifactId, or the request body when
// no artifact is given.
func (s *Server) loadHDUs(w http.ResponseWriter, r *http.Request) ([]fits.HDU, error) {
	if r.URL.Query().Get("artifactId") != "" {
		art, err := s.artifactPath(r)
		if err != nil {
			return nil, err
		}
		return fits.ReadFile(art.Path, s.opts.readOptions())
	}
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body and no artifactId")
	}
	return fits.ParseFile(data, s.opts.readOptions())
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hdus, err := s.loadHDUs(w, r)
	if err != nil {
		httpError(w, err)
		return
	}
	resp := struct {
		HDUs []report.HDUSummary `json:"hdus"`
	}{HDUs: report.SummarizeHDUs(hdus, false)}
	writeJSON(w, http.StatusOK, resp)
}

// handleDecode streams one NDJSON record per HDU, image HDUs carrying sample
// statistics, followed by a closing record with the HDU count.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hdus, err := s.loadHDUs(w, r)
	if err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	writer := NewNDJSONWriter(w)
	for i, h := range hdus {
		if err := writer.WriteSummary(report.SummarizeHDU(i, h, true)); err != nil {
			common.Logf("decode stream: %v", err)
			return
		}
	}
	_ = writer.WriteObject(map[string]any{"type": "done", "hdus": len(hdus)})
}

type encodeRequest struct {
	Name     string                 `json:"name"`
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Encoding string                 `json:"encoding"`
	Header   map[string]interface{} `json:"header"`
	// Pixels holds native-endian samples, base64 in JSON.
	Pixels []byte `json:"pixels"`
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req encodeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	// Integer header values must stay integers.
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	header, bad := fits.HeaderFromMap(req.Header)
	explicit, err := fits.ParseEncoding(req.Encoding)
	if err != nil {
		httpError(w, err)
		return
	}
	enc, err := fits.ResolveEncoding(explicit, header, s.opts.DefaultEncoding)
	if err != nil {
		httpError(w, err)
		return
	}
	if err := fits.ValidateLength(req.Pixels, req.Width, req.Height, enc); err != nil {
		httpError(w, err)
		return
	}
	out, err := s.tempPath("encode-*.fits")
	if err != nil {
		http.Error(w, fmt.Sprintf("encode temp: %v", err), http.StatusInternalServerError)
		return
	}
	rep, err := fits.EncodeFile(out, req.Pixels, req.Width, req.Height, enc, header)
	if err != nil {
		os.Remove(out)
		httpError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "image.fits"
	}
	art, err := s.addArtifact(out, name, "application/fits", "encode")
	if err != nil {
		http.Error(w, fmt.Sprintf("register artifact: %v", err), http.StatusInternalServerError)
		return
	}
	skipped := append(bad, rep.Skipped...)
	resp := struct {
		Artifact ArtifactRef `json:"artifact"`
		Encoding string      `json:"encoding"`
		Written  int         `json:"written"`
		Skipped  []KeyIssue  `json:"skipped"`
	}{
		Artifact: toRef(art),
		Encoding: enc.String(),
		Written:  rep.Written,
		Skipped:  keyIssues(skipped),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReport renders JSON and PDF summaries of an artifact.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	art, err := s.artifactPath(r)
	if err != nil {
		httpError(w, err)
		return
	}
	sum, err := report.Summarize(art.Path, s.opts.readOptions())
	if err != nil {
		httpError(w, err)
		return
	}
	sum.File = art.Name
	jsonPath, err := s.tempPath("summary-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("summary temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveJSON(sum, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write summary: %v", err), http.StatusInternalServerError)
		return
	}
	pdfPath, err := s.tempPath("summary-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("summary pdf temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SavePDF(sum, pdfPath); err != nil {
		http.Error(w, fmt.Sprintf("write summary pdf: %v", err), http.StatusInternalServerError)
		return
	}
	jsonArt, err := s.addArtifact(jsonPath, "summary.json", "application/json", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register summary: %v", err), http.StatusInternalServerError)
		return
	}
	pdfArt, err := s.addArtifact(pdfPath, "summary.pdf", "application/pdf", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register summary: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Summary   report.Summary `json:"summary"`
		Artifacts []ArtifactRef  `json:"artifacts"`
	}{
		Summary:   sum,
		Artifacts: []ArtifactRef{toRef(jsonArt), toRef(pdfArt)},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)).Decode(&req); err != nil {
		httpError(w, fmt.Errorf("invalid json: %w", err))
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	var paths []string
	names := make(map[string]string)
	for _, id := range req.Inputs {
		art, ok := s.getArtifact(id)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown artifact %s", id), http.StatusNotFound)
			return
		}
		paths = append(paths, art.Path)
		names[art.Path] = art.Name
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	for i := range m.Items {
		m.Items[i].Path = names[m.Items[i].Path]
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{
		Manifest: m,
		Artifact: toRef(art),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCatalog lists or searches the catalog on GET and indexes an artifact
// on POST.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.opts.Catalog
	if cat == nil {
		http.Error(w, "catalog not configured", http.StatusNotFound)
		return
	}
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		keyword := strings.TrimSpace(q.Get("keyword"))
		if keyword == "" {
			files, err := cat.Files(ctx)
			if err != nil {
				http.Error(w, fmt.Sprintf("list catalog: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, struct {
				Files []catalog.File `json:"files"`
			}{Files: files})
			return
		}
		var (
			matches []catalog.Match
			err     error
		)
		if q.Has("min") || q.Has("max") {
			lo, hi, perr := parseRange(q.Get("min"), q.Get("max"))
			if perr != nil {
				http.Error(w, perr.Error(), http.StatusBadRequest)
				return
			}
			matches, err = cat.QueryRange(ctx, keyword, lo, hi)
		} else {
			matches, err = cat.Query(ctx, keyword, q.Get("value"))
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("query catalog: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Matches []catalog.Match `json:"matches"`
		}{Matches: matches})
	case http.MethodPost:
		art, err := s.artifactPath(r)
		if err != nil {
			httpError(w, err)
			return
		}
		sum, err := report.Summarize(art.Path, s.opts.readOptions())
		if err != nil {
			httpError(w, err)
			return
		}
		sum.File = "artifact:" + art.ID + "/" + art.Name
		if err := cat.Index(ctx, sum); err != nil {
			http.Error(w, fmt.Sprintf("index: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			File  string `json:"file"`
			Valid bool   `json:"valid"`
			HDUs  int    `json:"hdus"`
		}{File: sum.File, Valid: sum.Valid, HDUs: len(sum.HDUs)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func parseRange(minStr, maxStr string) (float64, float64, error) {
	lo, hi := -1e308, 1e308
	var err error
	if minStr != "" {
		if lo, err = strconv.ParseFloat(minStr, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid min: %v", err)
		}
	}
	if maxStr != "" {
		if hi, err = strconv.ParseFloat(maxStr, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid max: %v", err)
		}
	}
	return lo, hi, nil
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Metrics.Snapshot())
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func keyIssues(errs []fits.KeyError) []KeyIssue {
	out := make([]KeyIssue, 0, len(errs))
	for _, ke := range errs {
		out = append(out, KeyIssue{Keyword: ke.Keyword, Error: ke.Err.Error()})
	}
	return out
}

// statusFor maps the FITS error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		perr   *fits.ParseError
		verr   *fits.ValidationError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, fits.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr), errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fits.ErrIO), errors.Is(err, fits.ErrPermissionDenied):
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func httpError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		common.Logf("request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".fits", ".fit", ".fts":
		return "application/fits"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
