package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/header", s.handleHeader)
	mux.HandleFunc("/decode", s.handleDecode)
	mux.HandleFunc("/encode", s.handleEncode)
	mux.HandleFunc("/report", s.handleReport)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/catalog", s.handleCatalog)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}
