package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefordc/housing-insights-loader/internal/config"
)

func TestFileStore_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "snapshots")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Load(ctx, "crime")
	require.ErrorIs(t, err, ErrNoBackup)

	require.NoError(t, store.Save(ctx, "crime", []byte(`[{"offense":"THEFT"}]`)))
	require.NoError(t, store.Save(ctx, "crime", []byte(`[{"offense":"ROBBERY"}]`)))

	data, err := store.Load(ctx, "crime")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"offense":"ROBBERY"}]`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "crime.json", entries[0].Name())
}

func TestFileStore_InvalidTableNames(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../etc/passwd", "Crime", "zone facts"} {
		assert.Error(t, store.Save(ctx, name, []byte("x")), name)
		_, err := store.Load(ctx, name)
		assert.Error(t, err, name)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Save(ctx, "crime", []byte("x")), context.Canceled)
	_, err = store.Load(ctx, "crime")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("")
	require.Error(t, err)
}

func TestNopStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NopStore{}
	require.NoError(t, store.Save(ctx, "crime", []byte("x")))
	_, err := store.Load(ctx, "crime")
	require.ErrorIs(t, err, ErrNoBackup)
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      *config.BackupConfig
		wantType Store
		wantErr  string
	}{
		{name: "nil config", cfg: nil, wantType: NopStore{}},
		{
			name:     "file store",
			cfg:      &config.BackupConfig{Type: config.BackupTypeFile, Dir: t.TempDir()},
			wantType: &FileStore{},
		},
		{
			name:    "s3 without section",
			cfg:     &config.BackupConfig{Type: config.BackupTypeS3},
			wantErr: "requires an s3 section",
		},
		{
			name: "s3 without credentials",
			cfg: &config.BackupConfig{Type: config.BackupTypeS3, S3: &config.S3Config{
				Endpoint:      "localhost:9000",
				Bucket:        "hi",
				AccessKeyFile: filepath.Join(t.TempDir(), "missing"),
			}},
			wantErr: "backup access key",
		},
		{
			name:    "unsupported type",
			cfg:     &config.BackupConfig{Type: "tape"},
			wantErr: "unsupported backup type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := NewStore(ctx, tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, store)
		})
	}
}

func TestNewS3Store_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := NewS3Store(ctx, S3Options{Bucket: "hi", AccessKey: "a", SecretKey: "s"})
	require.ErrorContains(t, err, "endpoint and bucket are required")

	_, err = NewS3Store(ctx, S3Options{Endpoint: "localhost:9000", Bucket: "hi"})
	require.ErrorContains(t, err, "credentials are required")
}

func TestS3Store_Key(t *testing.T) {
	t.Parallel()

	key, err := (&S3Store{}).key("crime")
	require.NoError(t, err)
	assert.Equal(t, "crime.json", key)

	key, err = (&S3Store{prefix: "snapshots/daily"}).key("zone_facts")
	require.NoError(t, err)
	assert.Equal(t, "snapshots/daily/zone_facts.json", key)

	_, err = (&S3Store{}).key("../crime")
	require.Error(t, err)
}

func TestS3Store_Classify(t *testing.T) {
	t.Parallel()

	s := &S3Store{}

	tests := []struct {
		name       string
		err        error
		wantBackup bool
	}{
		{name: "missing key", err: minio.ErrorResponse{Code: "NoSuchKey"}, wantBackup: true},
		{name: "missing bucket", err: minio.ErrorResponse{Code: "NoSuchBucket"}, wantBackup: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied"}},
		{name: "network", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := s.classify("crime", "crime.json", tt.err)
			assert.Equal(t, tt.wantBackup, errors.Is(err, ErrNoBackup))
		})
	}
}
