package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/registry"
)

type memBlob struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	putErr    error
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memStore struct {
	opps    []domain.Opportunity
	listErr error
	deleted int
}

func (s *memStore) Insert(context.Context, domain.Opportunity) error { return nil }
func (s *memStore) MarkExecuted(context.Context, string) error       { return nil }
func (s *memStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return s.opps, nil
}

func (s *memStore) ListBefore(_ context.Context, before time.Time) ([]domain.Opportunity, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Opportunity
	for _, o := range s.opps {
		if o.DetectedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.opps[:0]
	var n int64
	for _, o := range s.opps {
		if o.DetectedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	s.opps = kept
	s.deleted += int(n)
	return n, nil
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = 1
	return k
}

func TestArchiveOpportunities(t *testing.T) {
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{opps: []domain.Opportunity{
		{ID: "old-1", DetectedAt: cutoff.Add(-48 * time.Hour), ExpectedProfit: 5},
		{ID: "old-2", DetectedAt: cutoff.Add(-time.Hour), ExpectedProfit: 7},
		{ID: "new", DetectedAt: cutoff.Add(time.Hour)},
	}}
	blob := newMemBlob()
	a := NewArchiver(blob, store)

	n, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, store.opps, 1)
	assert.Equal(t, "new", store.opps[0].ID)

	body, ok := blob.objects["archive/opportunities/2026-09.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"old-1"`)
	assert.Contains(t, lines[1], `"expected_profit":7`)
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	cutoff := time.Now()
	store := &memStore{opps: []domain.Opportunity{{ID: "a", DetectedAt: cutoff.Add(-time.Minute)}}}
	blob := newMemBlob()
	blob.putErr = errors.New("bucket unavailable")

	_, err := NewArchiver(blob, store).ArchiveOpportunities(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, store.opps, 1)
	assert.Zero(t, store.deleted)
}

func TestArchiveNothingToDo(t *testing.T) {
	blob := newMemBlob()
	n, err := NewArchiver(blob, &memStore{}).ArchiveOpportunities(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestArchivePathUsesUTCMonth(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 2026-10-01 05:00 in UTC+10 is still September in UTC.
	assert.Equal(t, "archive/opportunities/2026-09.jsonl", ArchivePath(time.Date(2026, 10, 1, 5, 0, 0, 0, loc)))
}

func seededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i, reserves := range [][2]uint64{{1000, 1100}, {5000, 4000}} {
		_, err := reg.Apply(context.Background(), domain.VenueUpdate{
			Address: key(byte(10 + i)),
			Kind:    domain.KindConstantProduct,
			MintA:   key(1),
			MintB:   key(2),
			Fee:     domain.FeeParams{RatePPM: 2500},
			Attrs:   domain.ConstantProductAttrs{ReserveA: reserves[0], ReserveB: reserves[1]},
			Version: uint64(100 + i),
		})
		require.NoError(t, err)
	}
	return reg
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	src := seededRegistry(t)

	require.NoError(t, SaveCheckpoint(ctx, blob, src.View().Venues()))
	assert.Zero(t, blob.multipart)

	updates, err := LoadCheckpoint(ctx, blob)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	dst := registry.New(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, u := range updates {
		_, err := dst.Apply(ctx, u)
		require.NoError(t, err)
	}
	v, ok := dst.Get(key(11))
	require.True(t, ok)
	assert.Equal(t, uint64(101), v.Version)
	assert.Equal(t, domain.ConstantProductAttrs{ReserveA: 5000, ReserveB: 4000}, v.Attrs)
	assert.Equal(t, uint32(2500), v.Fee.RatePPM)
}

func TestLoadCheckpointMissingIsEmpty(t *testing.T) {
	updates, err := LoadCheckpoint(context.Background(), newMemBlob())
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestLoadCheckpointRejectsCorruptLine(t *testing.T) {
	blob := newMemBlob()
	blob.objects[CheckpointPath] = []byte("\n{not json}\n")

	_, err := LoadCheckpoint(context.Background(), blob)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
	assert.Contains(t, err.Error(), "line 2")
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestNotFound(t *testing.T) {
	assert.True(t, notFound(fmt.Errorf("wrapped: %w", &types.NoSuchKey{})))
	assert.True(t, notFound(&types.NotFound{}))
	assert.True(t, notFound(statusErr{code: 404}))
	assert.False(t, notFound(statusErr{code: 403}))
	assert.False(t, notFound(errors.New("boom")))
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", withScheme("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", withScheme("minio.local:9000", false))
	assert.Equal(t, "https://e2.example.com", withScheme("https://e2.example.com", false))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "arb"})
	assert.Error(t, err)
}
