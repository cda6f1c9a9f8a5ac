package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
)

const maxUploadBytes = 8 << 20

// handleUpload accepts a standalone multipart upload and returns the URL,
// for clients that attach files to records in a separate step.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireRole(w, r, auth.RoleProducer) {
		return
	}

	file, err := readMultipartFile(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if file == nil {
		writeError(w, r, http.StatusBadRequest, "file part is required")
		return
	}

	url, err := a.uploadOnly(r, file)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"url":  url,
		"name": file.Name,
	})
}

// uploadOnly reuses the record-attached upload path so errors carry the same
// shape as create/update uploads.
func (a *API) uploadOnly(r *http.Request, file *content.FileUpload) (string, error) {
	uploader := a.content.Uploader()
	if uploader == nil {
		return "", &content.UploadError{Err: errors.New("no uploader configured")}
	}
	url, err := uploader.Upload(r.Context(), *file)
	if err != nil {
		return "", &content.UploadError{Err: err}
	}
	return url, nil
}

// decodeMultipart extracts regular form fields plus an optional "file" part.
func decodeMultipart(r *http.Request) (content.Fields, *content.FileUpload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, errors.New("invalid multipart form")
	}

	raw := make(map[string]any, len(r.MultipartForm.Value))
	for key, vals := range r.MultipartForm.Value {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}
	fields := content.Normalize(raw)

	file, err := readMultipartFile(r)
	if err != nil {
		return nil, nil, err
	}
	return fields, file, nil
}

func readMultipartFile(r *http.Request) (*content.FileUpload, error) {
	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errors.New("invalid file part")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return nil, errors.New("failed to read file")
	}
	if len(data) > maxUploadBytes {
		return nil, errors.New("file too large")
	}

	folder := strings.TrimSpace(r.FormValue("folder"))
	field := strings.TrimSpace(r.FormValue("field"))
	return &content.FileUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Folder:      folder,
		Field:       field,
		Data:        data,
	}, nil
}
