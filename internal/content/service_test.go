package content

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails every operation with a transport error while counting
// write attempts, standing in for an unreachable remote backend.
type flakyStore struct {
	writes int
	err    error
}

func (f *flakyStore) fail(op string, kind Kind) error {
	if f.err != nil {
		return f.err
	}
	return &TransportError{Op: op, Kind: kind, Err: errors.New("connection refused")}
}

func (f *flakyStore) Create(ctx context.Context, kind Kind, fields Fields) (Record, error) {
	f.writes++
	return Record{}, f.fail("create", kind)
}

func (f *flakyStore) FetchAll(ctx context.Context, kind Kind, opts ListOptions) ([]Record, error) {
	return nil, f.fail("fetch_all", kind)
}

func (f *flakyStore) FetchByID(ctx context.Context, kind Kind, id string) (Record, error) {
	return Record{}, f.fail("fetch_by_id", kind)
}

func (f *flakyStore) Update(ctx context.Context, kind Kind, id string, fields Fields) (Record, error) {
	f.writes++
	return Record{}, f.fail("update", kind)
}

func (f *flakyStore) Delete(ctx context.Context, kind Kind, id string) error {
	f.writes++
	return f.fail("delete", kind)
}

func (f *flakyStore) Search(ctx context.Context, kind Kind, term string, fields []string) ([]Record, error) {
	return nil, f.fail("search", kind)
}

type stubUploader struct {
	url   string
	err   error
	calls int
}

func (u *stubUploader) Upload(ctx context.Context, up FileUpload) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

func seededLocal(t *testing.T) *LocalStore {
	t.Helper()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	_, err = local.Create(context.Background(), KindProducer, Fields{"businessName": "Local Coop", "status": "pending"})
	require.NoError(t, err)
	return local
}

func TestReadsDegradeToLocalOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	local := seededLocal(t)
	svc := NewService(&flakyStore{}, local)

	recs, err := svc.List(ctx, KindProducer, ListOptions{})
	require.NoError(t, err, "reads must never surface a transport error")
	require.Len(t, recs, 1)
	assert.Equal(t, "Local Coop", recs[0].Fields["businessName"])

	found, err := svc.Search(ctx, KindProducer, "local", []string{"businessName"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	got, err := svc.Get(ctx, KindProducer, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, recs[0].ID, got.ID)
}

func TestWritesSurfaceRemoteFailure(t *testing.T) {
	ctx := context.Background()
	local := seededLocal(t)
	remote := &flakyStore{}
	svc := NewService(remote, local)

	_, err := svc.Create(ctx, KindProducer, Fields{"businessName": "X"}, nil)
	require.Error(t, err)
	var te *TransportError
	assert.ErrorAs(t, err, &te)

	_, err = svc.Update(ctx, KindProducer, "some-id", Fields{"status": "approved"}, nil)
	require.Error(t, err)

	err = svc.Delete(ctx, KindProducer, "some-id")
	require.Error(t, err)

	// The local store is never written as a fallback.
	recs, _ := local.FetchAll(ctx, KindProducer, ListOptions{})
	assert.Len(t, recs, 1)
	assert.Equal(t, 3, remote.writes)
}

func TestGetNotFoundIsNotATransportFailure(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	remote := &flakyStore{err: ErrNotFound}
	svc := NewService(remote, local)

	_, err = svc.Get(ctx, KindNews, "missing")
	assert.ErrorIs(t, err, ErrNotFound, "not-found must pass through without local fallback")
}

func TestDetachedModeTargetsLocalOnly(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	remote := &flakyStore{}
	svc := NewService(remote, local, Detached())

	rec, err := svc.Create(ctx, KindNews, Fields{"title": "Offline note"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, remote.writes, "detached mode must not touch the remote backend")

	got, err := svc.Get(ctx, KindNews, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Offline note", got.Fields["title"])
}

func TestNilRemoteImpliesDetached(t *testing.T) {
	local, err := NewLocalStore("")
	require.NoError(t, err)
	svc := NewService(nil, local)
	assert.True(t, svc.Detached())
}

func TestUploadFailureAbortsWrite(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	remote := &flakyStore{}
	uploader := &stubUploader{err: errors.New("bucket unreachable")}
	svc := NewService(remote, local, WithUploader(uploader))

	file := &FileUpload{Name: "logo.png", ContentType: "image/png", Data: []byte{1}}
	_, err = svc.Create(ctx, KindProducer, Fields{"businessName": "Y"}, file)
	require.Error(t, err)
	var ue *UploadError
	assert.ErrorAs(t, err, &ue)
	assert.Equal(t, 0, remote.writes, "record write must not run after a failed upload")

	_, err = svc.Update(ctx, KindProducer, "id", Fields{}, file)
	require.Error(t, err)
	assert.Equal(t, 0, remote.writes)
	assert.Equal(t, 2, uploader.calls)
}

func TestUploadURLSubstitutedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	uploader := &stubUploader{url: "https://cdn.example.org/producers/logo.png"}
	svc := NewService(nil, local, WithUploader(uploader))

	rec, err := svc.Create(ctx, KindProducer, Fields{"businessName": "Z"}, &FileUpload{
		Name: "logo.png", ContentType: "image/png", Data: []byte{1},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/producers/logo.png", rec.Fields["imageUrl"])
}

func TestAllMergedRemoteFirstNoDedup(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore("")
	require.NoError(t, err)
	localRec, err := local.Create(ctx, KindService, Fields{"title": "Local training"})
	require.NoError(t, err)

	remoteLocal, err := NewLocalStore("")
	require.NoError(t, err)
	remoteRec, err := remoteLocal.Create(ctx, KindService, Fields{"title": "Remote training"})
	require.NoError(t, err)

	svc := NewService(remoteLocal, local)
	merged, err := svc.AllMerged(ctx, KindService)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, remoteRec.ID, merged[0].ID, "remote records come first")
	assert.Equal(t, localRec.ID, merged[1].ID)
}
