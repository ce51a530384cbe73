package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/codefordc/housing-insights-loader/internal/backup"
	backupmocks "github.com/codefordc/housing-insights-loader/internal/backup/mocks"
	"github.com/codefordc/housing-insights-loader/internal/config"
	"github.com/codefordc/housing-insights-loader/internal/httpclient"
	"github.com/codefordc/housing-insights-loader/internal/refresh"
)

const crimeGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"OFFENSE": "THEFT/OTHER", "WARD": "6", "CENSUS_TRACT": "007200", "NEIGHBORHOOD_CLUSTER": "Cluster 25"}},
    {"type": "Feature", "properties": {"OFFENSE": "ROBBERY", "WARD": "1", "CENSUS_TRACT": "003100", "NEIGHBORHOOD_CLUSTER": "Cluster 2"}}
  ]
}`

func staticSource(data string) Source {
	return SourceFunc(func(context.Context) ([]byte, error) {
		return []byte(data), nil
	})
}

func failingSource(err error) Source {
	return SourceFunc(func(context.Context) ([]byte, error) {
		return nil, err
	})
}

func TestExtractRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		path    string
		want    []string
		wantErr string
	}{
		{
			name: "geojson properties",
			data: crimeGeoJSON,
			path: "features.#.properties",
			want: []string{
				`{"census_tract":"007200","neighborhood_cluster":"Cluster 25","offense":"THEFT/OTHER","ward":"6"}`,
				`{"census_tract":"003100","neighborhood_cluster":"Cluster 2","offense":"ROBBERY","ward":"1"}`,
			},
		},
		{
			name: "top-level array",
			data: `[{"Project_Name":"Arthur Capper","units":120}]`,
			want: []string{`{"project_name":"Arthur Capper","units":120}`},
		},
		{
			name: "empty array",
			data: `{"features":[]}`,
			path: "features.#.properties",
			want: nil,
		},
		{
			name:    "invalid JSON",
			data:    `{"features": [`,
			wantErr: "not valid JSON",
		},
		{
			name:    "path selects object",
			data:    `{"features":{"a":1}}`,
			path:    "features",
			wantErr: `did not select an array`,
		},
		{
			name:    "missing path",
			data:    `{"features":[]}`,
			path:    "rows",
			wantErr: `did not select an array`,
		},
		{
			name:    "non-object record",
			data:    `[{"a":1}, 2]`,
			wantErr: "record 1 is not an object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			records, err := ExtractRecords([]byte(tt.data), tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, records, len(tt.want))
			for i, want := range tt.want {
				assert.JSONEq(t, want, string(records[i]))
			}
		})
	}
}

func TestTableLoader_Load_Success(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := backupmocks.NewMockStore(ctrl)
	store.EXPECT().Save(gomock.Any(), "crime", []byte(crimeGeoJSON)).Return(nil)

	loadedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewTableLoader("crime", staticSource(crimeGeoJSON),
		WithRecordsPath("features.#.properties"),
		WithBackup(store),
	)
	l.now = func() time.Time { return loadedAt }

	db := &fakeDB{}
	require.NoError(t, l.Load(context.Background(), db))

	assert.Equal(t, []string{deleteRecordsSQL}, db.execs)
	assert.True(t, db.committed)
	assert.False(t, db.rolledBack)
	require.Len(t, db.copied, 2)
	assert.Equal(t, "crime", db.copied[0][0])
	assert.Equal(t, loadedAt, db.copied[0][2])
}

func TestTableLoader_Load_BackupSaveFailureIsIgnored(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := backupmocks.NewMockStore(ctrl)
	store.EXPECT().Save(gomock.Any(), "permit", gomock.Any()).Return(errBoom)

	l := NewTableLoader("permit", staticSource(`[{"ward":"2"}]`), WithBackup(store))

	db := &fakeDB{}
	require.NoError(t, l.Load(context.Background(), db))
	assert.True(t, db.committed)
}

func TestTableLoader_Load_FallsBackToBackup(t *testing.T) {
	t.Parallel()

	upstreamErr := httpclient.NewHTTPError(503, "https://opendata.dc.gov/crime.geojson", "503 Service Unavailable")

	tests := []struct {
		name   string
		source Source
	}{
		{name: "upstream unavailable", source: failingSource(upstreamErr)},
		{name: "upstream malformed", source: staticSource(`<html>maintenance</html>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := backupmocks.NewMockStore(ctrl)
			store.EXPECT().Load(gomock.Any(), "crime").Return([]byte(crimeGeoJSON), nil)

			l := NewTableLoader("crime", tt.source,
				WithRecordsPath("features.#.properties"),
				WithBackup(store),
			)

			db := &fakeDB{}
			err := l.Load(context.Background(), db)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUsedBackup)
			assert.True(t, db.committed, "backup records are written")
			assert.Len(t, db.copied, 2)
		})
	}
}

func TestTableLoader_Load_NoBackupLeavesTableUntouched(t *testing.T) {
	t.Parallel()

	l := NewTableLoader("crime", failingSource(errBoom))

	db := &fakeDB{}
	err := l.Load(context.Background(), db)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, backup.ErrNoBackup)
	assert.NotErrorIs(t, err, ErrUsedBackup)
	assert.Empty(t, db.execs)
	assert.False(t, db.committed)
}

func TestTableLoader_Load_WriteFailureRollsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		db      *fakeDB
		wantErr string
	}{
		{
			name:    "begin fails",
			db:      &fakeDB{beginErr: errBoom},
			wantErr: "failed to begin transaction",
		},
		{
			name:    "delete fails",
			db:      &fakeDB{execErr: map[string]error{deleteRecordsSQL: errBoom}},
			wantErr: "failed to clear crime records",
		},
		{
			name:    "copy fails",
			db:      &fakeDB{copyErr: errBoom},
			wantErr: "failed to copy crime records",
		},
		{
			name:    "commit fails",
			db:      &fakeDB{commitErr: errBoom},
			wantErr: "failed to commit crime records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := backupmocks.NewMockStore(ctrl)
			store.EXPECT().Save(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

			l := NewTableLoader("crime", staticSource(crimeGeoJSON),
				WithRecordsPath("features.#.properties"),
				WithBackup(store),
			)

			err := l.Load(context.Background(), tt.db)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, tt.db.committed)
			if tt.db.beginErr == nil {
				assert.True(t, tt.db.rolledBack)
			}
		})
	}
}

func TestZoneFactsLoader_Load(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		db      *fakeDB
		wantErr string
	}{
		{
			name: "rebuilds aggregate",
			db:   &fakeDB{rowsAffected: 42},
		},
		{
			name:    "no zone data",
			db:      &fakeDB{},
			wantErr: "no crime or permit records carry zone fields",
		},
		{
			name:    "build fails",
			db:      &fakeDB{execErr: map[string]error{buildZoneFactsSQL: errBoom}},
			wantErr: "failed to build zone facts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewZoneFactsLoader(nil).Load(context.Background(), tt.db)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, tt.db.rolledBack)
				assert.False(t, tt.db.committed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{deleteZoneFactsSQL, buildZoneFactsSQL}, tt.db.execs)
			assert.True(t, tt.db.committed)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	client := httpclient.NewDefaultClient(time.Second)

	reg, err := NewRegistry([]config.TableConfig{
		{Name: "crime", Source: "https://opendata.dc.gov/crime.geojson", RecordsPath: "features.#.properties"},
		{Name: "permit", Source: "https://opendata.dc.gov/permits.geojson"},
	}, client, backup.NopStore{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"acs", "crime", "permit", "project", "subsidy", "zone_facts"}, reg.Tables())

	zf, ok := reg.Entry(refresh.TableZoneFacts)
	require.True(t, ok)
	assert.Equal(t, []string{"crime", "permit"}, zf.DependsOn)

	acs, ok := reg.Entry(refresh.TableACS)
	require.True(t, ok)
	assert.Equal(t, "ACS", acs.DisplayName)
}

func TestNewRegistry_RejectsSourceForAggregate(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]config.TableConfig{
		{Name: "zone_facts", Source: "https://example.org/zf.json"},
	}, httpclient.NewDefaultClient(time.Second), backup.NopStore{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone_facts")
}

func TestUnconfiguredSourceFallsBack(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(nil, httpclient.NewDefaultClient(time.Second), backup.NopStore{}, nil)
	require.NoError(t, err)

	l, err := reg.Resolve(refresh.TableSubsidy)
	require.NoError(t, err)

	err = l.Load(context.Background(), &fakeDB{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no upstream source configured for table subsidy")
}

func TestHTTPSource_Fetch(t *testing.T) {
	t.Parallel()

	var gotURL string
	var hadDeadline bool
	client := clientFunc(func(ctx context.Context, url string) ([]byte, error) {
		gotURL = url
		_, hadDeadline = ctx.Deadline()
		return []byte("[]"), nil
	})

	data, err := NewHTTPSource(client, "https://opendata.dc.gov/crime.geojson", time.Minute).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), data)
	assert.Equal(t, "https://opendata.dc.gov/crime.geojson", gotURL)
	assert.True(t, hadDeadline)

	failing := clientFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("connection refused")
	})
	_, err = NewHTTPSource(failing, "https://opendata.dc.gov/x", 0).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch https://opendata.dc.gov/x")
}

type clientFunc func(ctx context.Context, url string) ([]byte, error)

func (f clientFunc) Get(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
