package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), statusFor(err))
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()
	var refs []ArtifactRef
	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	dest.Close()
	name := filepath.Base(fh.Filename)
	art, err := s.addArtifact(dest.Name(), name, guessContentType(name), "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}
