package content

import (
	"context"
	"errors"

	"ucaep.org/internal/obs"
)

// FileUpload is an optional binary payload attached to a create/update. The
// file is uploaded first and the resulting URL written into Field before the
// record write happens; upload failure aborts the whole operation.
type FileUpload struct {
	Name        string
	ContentType string
	Folder      string
	Field       string // payload field receiving the URL, e.g. "imageUrl"
	Data        []byte
}

// Uploader is the narrow contract of the file upload collaborator.
type Uploader interface {
	Upload(ctx context.Context, up FileUpload) (string, error)
}

// Service is the per-kind CRUD façade over the dual backends. The backend is
// chosen once at construction: in detached mode every operation targets the
// local store; otherwise operations target the remote store, with reads
// silently degrading to the local store on transport failure. Writes never
// fall back — a failed write surfaces its error so nothing is lost silently.
type Service struct {
	remote   Store
	local    *LocalStore
	uploader Uploader
	detached bool
}

// ServiceOption configures Service construction.
type ServiceOption func(*Service)

// WithUploader attaches the file upload collaborator.
func WithUploader(u Uploader) ServiceOption {
	return func(s *Service) { s.uploader = u }
}

// Detached forces all operations to the local store.
func Detached() ServiceOption {
	return func(s *Service) { s.detached = true }
}

// NewService builds the façade. A nil remote store implies detached mode.
func NewService(remote Store, local *LocalStore, opts ...ServiceOption) *Service {
	s := &Service{remote: remote, local: local}
	for _, opt := range opts {
		opt(s)
	}
	if s.remote == nil {
		s.detached = true
	}
	return s
}

// Detached reports whether the service targets the local store exclusively.
func (s *Service) Detached() bool { return s.detached }

// Uploader returns the configured upload collaborator, nil when none is set.
func (s *Service) Uploader() Uploader { return s.uploader }

func (s *Service) writeStore() Store {
	if s.detached {
		return s.local
	}
	return s.remote
}

// Create uploads the attached file (if any) and writes the record.
func (s *Service) Create(ctx context.Context, kind Kind, fields Fields, file *FileUpload) (Record, error) {
	fields, err := s.applyUpload(ctx, fields, file)
	if err != nil {
		return Record{}, err
	}
	return s.writeStore().Create(ctx, kind, fields)
}

// Update uploads the attached file (if any) and merges the given fields.
func (s *Service) Update(ctx context.Context, kind Kind, id string, fields Fields, file *FileUpload) (Record, error) {
	fields, err := s.applyUpload(ctx, fields, file)
	if err != nil {
		return Record{}, err
	}
	return s.writeStore().Update(ctx, kind, id, fields)
}

// Delete removes the record. Hard delete, no tombstone.
func (s *Service) Delete(ctx context.Context, kind Kind, id string) error {
	return s.writeStore().Delete(ctx, kind, id)
}

// Get reads one record, degrading to the local store on transport failure.
func (s *Service) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	if s.detached {
		return s.local.FetchByID(ctx, kind, id)
	}
	rec, err := s.remote.FetchByID(ctx, kind, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return rec, err
	}
	obs.CountFallbackRead(string(kind))
	return s.local.FetchByID(ctx, kind, id)
}

// List reads a filtered collection, degrading to the local store on transport
// failure. List never surfaces a transport error to its caller.
func (s *Service) List(ctx context.Context, kind Kind, opts ListOptions) ([]Record, error) {
	if s.detached {
		return s.local.FetchAll(ctx, kind, opts)
	}
	recs, err := s.remote.FetchAll(ctx, kind, opts)
	if err == nil {
		return recs, nil
	}
	obs.CountFallbackRead(string(kind))
	return s.local.FetchAll(ctx, kind, opts)
}

// Search matches a term across the given fields, with the same read-fallback
// behavior as List.
func (s *Service) Search(ctx context.Context, kind Kind, term string, fields []string) ([]Record, error) {
	if s.detached {
		return s.local.Search(ctx, kind, term, fields)
	}
	recs, err := s.remote.Search(ctx, kind, term, fields)
	if err == nil {
		return recs, nil
	}
	obs.CountFallbackRead(string(kind))
	return s.local.Search(ctx, kind, term, fields)
}

// AllMerged returns remote records followed by local records for a kind, with
// no de-duplication. Callers must tolerate a record appearing to come from
// either source. In detached mode only the local records are returned.
func (s *Service) AllMerged(ctx context.Context, kind Kind) ([]Record, error) {
	localRecs, err := s.local.FetchAll(ctx, kind, ListOptions{})
	if err != nil {
		return nil, err
	}
	if s.detached {
		return localRecs, nil
	}
	remoteRecs, err := s.remote.FetchAll(ctx, kind, ListOptions{})
	if err != nil {
		obs.CountFallbackRead(string(kind))
		return localRecs, nil
	}
	return append(remoteRecs, localRecs...), nil
}

func (s *Service) applyUpload(ctx context.Context, fields Fields, file *FileUpload) (Fields, error) {
	if file == nil {
		return fields, nil
	}
	if s.uploader == nil {
		return nil, &UploadError{Err: errors.New("no uploader configured")}
	}
	url, err := s.uploader.Upload(ctx, *file)
	if err != nil {
		return nil, &UploadError{Err: err}
	}
	out := fields.Clone()
	field := file.Field
	if field == "" {
		field = "imageUrl"
	}
	out[field] = url
	return out, nil
}
