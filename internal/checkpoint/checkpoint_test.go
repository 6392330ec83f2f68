package checkpoint_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/docsync/internal/checkpoint"
	"github.com/bjaus/docsync/internal/schema"
)

// =============================================================================
// Document format
// =============================================================================

func TestCheckpoint_JSON(t *testing.T) {
	cp := checkpoint.Checkpoint{
		Cutoff:    time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC),
		LastIDs:   map[schema.Kind]string{schema.KindOrder: "65e1f0c2a1b2c3d4e5f60718"},
		BatchSize: 1000,
	}

	data, err := json.Marshal(cp)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"last_updated": "2024-03-01T08:30:00+00:00",
		"last_processed_ids": {"order": "65e1f0c2a1b2c3d4e5f60718"},
		"ETL_BATCH_SIZE": 1000
	}`, string(data))

	var decoded checkpoint.Checkpoint
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, cp.Cutoff.Equal(decoded.Cutoff))
	require.Equal(t, cp.LastIDs, decoded.LastIDs)
}

func TestCheckpoint_UnmarshalVariants(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantCutoff time.Time
		wantIDs    map[schema.Kind]string
		wantErr    bool
	}{
		{
			name:       "zulu suffix",
			input:      `{"last_updated":"2023-10-01T12:00:00Z","last_processed_ids":{}}`,
			wantCutoff: time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC),
			wantIDs:    map[schema.Kind]string{},
		},
		{
			name:       "numeric offset",
			input:      `{"last_updated":"2024-01-01T02:00:00+02:00","last_processed_ids":{"star":"a"}}`,
			wantCutoff: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantIDs:    map[schema.Kind]string{schema.KindStar: "a"},
		},
		{
			name:       "missing cutoff and empty ids",
			input:      `{"last_processed_ids":{"zone":""}}`,
			wantCutoff: checkpoint.DefaultCutoff,
			wantIDs:    map[schema.Kind]string{},
		},
		{
			name:    "bad timestamp",
			input:   `{"last_updated":"yesterday"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cp checkpoint.Checkpoint
			err := json.Unmarshal([]byte(tt.input), &cp)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tt.wantCutoff.Equal(cp.Cutoff), "got %s", cp.Cutoff)
			require.Equal(t, tt.wantIDs, cp.LastIDs)
		})
	}
}

// =============================================================================
// File store
// =============================================================================

func TestFileStore_MissingFileIsFresh(t *testing.T) {
	store := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))

	cp, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, checkpoint.DefaultCutoff, cp.Cutoff)
	require.Empty(t, cp.LastIDs)
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "checkpoint.json")
	store := checkpoint.NewFileStore(path)

	cp := checkpoint.New()
	cp.LastIDs[schema.KindCity] = "65e1f0c2a1b2c3d4e5f60718"
	require.NoError(t, store.Write(context.Background(), cp))

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, cp.LastIDs, got.LastIDs)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := checkpoint.NewFileStore(path).Read(context.Background())
	var cerr *checkpoint.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, checkpoint.CodeCorrupt, cerr.Code)
}

// =============================================================================
// Object store
// =============================================================================

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, checkpoint.ClassifyMinioError(minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."})
	}
	return data, nil
}

func TestObjectStore_RoundTrip(t *testing.T) {
	api := &memObjects{}
	store := checkpoint.NewObjectStore(api, "docsync/checkpoint.json")

	cp, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Empty(t, cp.LastIDs)

	cp.LastIDs[schema.KindTracker] = "65e1f0c2a1b2c3d4e5f60718"
	require.NoError(t, store.Write(context.Background(), cp))
	require.Contains(t, api.objects, "docsync/checkpoint.json")

	got, err := store.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, cp.LastIDs, got.LastIDs)
}

func TestClassifyMinioError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, checkpoint.CodeObjectNotFound, false},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, checkpoint.CodeBucketNotFound, false},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, checkpoint.CodePermissionDenied, false},
		{"bad signature", minio.ErrorResponse{Code: "SignatureDoesNotMatch"}, checkpoint.CodeAuthInvalid, false},
		{"network", errors.New("dial tcp: connection refused"), checkpoint.CodeEndpointUnreachable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkpoint.ClassifyMinioError(tt.err)
			require.Equal(t, tt.code, got.Code)
			require.Equal(t, tt.retryable, got.Retryable)
			require.ErrorContains(t, got, tt.err.Error())
		})
	}
	require.Nil(t, checkpoint.ClassifyMinioError(nil))
}

func TestNewMinioBucket_Validation(t *testing.T) {
	_, err := checkpoint.NewMinioBucket(checkpoint.BucketConfig{Bucket: "b", AccessKey: "a", SecretKey: "s"})
	require.ErrorContains(t, err, "endpoint is required")

	_, err = checkpoint.NewMinioBucket(checkpoint.BucketConfig{Endpoint: "localhost:9000", Bucket: "b"})
	var cerr *checkpoint.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, checkpoint.CodeAuthInvalid, cerr.Code)

	b, err := checkpoint.NewMinioBucket(checkpoint.BucketConfig{
		Endpoint: "https://minio.internal:9000", Bucket: "b", AccessKey: "a", SecretKey: "s",
	})
	require.NoError(t, err)
	require.NotNil(t, b)
}

// =============================================================================
// Tracker
// =============================================================================

func openTracker(t *testing.T, store checkpoint.Store) *checkpoint.Tracker {
	t.Helper()
	tr, err := checkpoint.Open(context.Background(), store, zerolog.Nop())
	require.NoError(t, err)
	return tr
}

func TestTracker_Advance(t *testing.T) {
	api := &memObjects{}
	store := checkpoint.NewObjectStore(api, "cp.json")
	tr := openTracker(t, store)
	ctx := context.Background()

	_, ok := tr.Last(schema.KindZone)
	require.False(t, ok)

	require.NoError(t, tr.Advance(ctx, schema.KindZone, "65e1f0c2a1b2c3d4e5f60701"))
	require.NoError(t, tr.Advance(ctx, schema.KindZone, "65e1f0c2a1b2c3d4e5f60702"))
	require.NoError(t, tr.Advance(ctx, schema.KindZone, "65e1f0c2a1b2c3d4e5f60702"), "same id is a no-op")

	err := tr.Advance(ctx, schema.KindZone, "65e1f0c2a1b2c3d4e5f60700")
	require.ErrorIs(t, err, checkpoint.ErrRegression)

	last, ok := tr.Last(schema.KindZone)
	require.True(t, ok)
	require.Equal(t, "65e1f0c2a1b2c3d4e5f60702", last)

	// A fresh tracker sees the persisted value.
	require.Equal(t, "65e1f0c2a1b2c3d4e5f60702", openTracker(t, store).Snapshot().LastIDs[schema.KindZone])
}

func TestTracker_WriteFailureKeepsState(t *testing.T) {
	api := &memObjects{}
	tr := openTracker(t, checkpoint.NewObjectStore(api, "cp.json"))
	ctx := context.Background()

	require.NoError(t, tr.Advance(ctx, schema.KindStar, "a1"))
	api.putErr = errors.New("bucket gone")

	require.Error(t, tr.Advance(ctx, schema.KindStar, "a2"))
	last, _ := tr.Last(schema.KindStar)
	require.Equal(t, "a1", last)
}

func TestTracker_AdvanceCutoff(t *testing.T) {
	tr := openTracker(t, checkpoint.NewObjectStore(&memObjects{}, "cp.json"))
	ctx := context.Background()

	later := checkpoint.DefaultCutoff.Add(24 * time.Hour)
	require.NoError(t, tr.AdvanceCutoff(ctx, later))
	require.NoError(t, tr.AdvanceCutoff(ctx, checkpoint.DefaultCutoff), "earlier cutoff is ignored")
	require.True(t, later.Equal(tr.Cutoff()))
}

func TestTracker_Reset(t *testing.T) {
	tr := openTracker(t, checkpoint.NewObjectStore(&memObjects{}, "cp.json"))
	ctx := context.Background()

	require.NoError(t, tr.Advance(ctx, schema.KindStar, "b"))
	require.NoError(t, tr.Advance(ctx, schema.KindCity, "c"))

	require.NoError(t, tr.Reset(ctx, schema.KindStar))
	_, ok := tr.Last(schema.KindStar)
	require.False(t, ok)
	_, ok = tr.Last(schema.KindCity)
	require.True(t, ok)

	require.NoError(t, tr.Reset(ctx))
	require.Empty(t, tr.Snapshot().LastIDs)

	require.NoError(t, tr.Advance(ctx, schema.KindStar, "a"), "cursor may restart lower after a reset")
}

func TestTracker_ConcurrentAdvance(t *testing.T) {
	tr := openTracker(t, checkpoint.NewObjectStore(&memObjects{}, "cp.json"))
	ctx := context.Background()

	kinds := []schema.Kind{schema.KindCountry, schema.KindCity, schema.KindZone, schema.KindReceiver}
	var wg sync.WaitGroup
	for _, k := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, tr.Advance(ctx, k, id))
			}
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	for _, k := range kinds {
		require.Equal(t, "c", snap.LastIDs[k])
	}
}
