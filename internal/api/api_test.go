package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recycling-sorter/config"
	"recycling-sorter/internal/bins"
	"recycling-sorter/internal/classifier"
	"recycling-sorter/internal/db"
	"recycling-sorter/internal/model"
	"recycling-sorter/internal/snapshot"
	"recycling-sorter/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router    *gin.Engine
	store     store.Store
	snapshots *snapshot.Publisher
}

func newTestEnv(t *testing.T) *testEnv {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB)
	var rows []model.Bin
	for _, id := range bins.All {
		rows = append(rows, model.Bin{ID: model.BinKey(id), Name: id.String(), DisplayName: id.String(), Enabled: id == bins.Metal})
	}
	require.NoError(t, s.SyncBins(context.Background(), rows))

	cfg := config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60}
	pub := snapshot.NewPublisher()
	return &testEnv{
		router:    NewRouter(cfg, s, pub, &webpush.Options{VAPIDPublicKey: "public-key"}),
		store:     s,
		snapshots: pub,
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"classification": null,
		"bins": {"paper": false, "plastic": false, "metal": false, "trash": false},
		"climate": null,
		"hasImage": false
	}`, w.Body.String())

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env.snapshots.SetClassification(now, classifier.Metal, "")
	env.snapshots.SetBinStatus(now, bins.Status{bins.Metal: true})
	env.snapshots.SetClimate(now, 21.5, 40)

	w = env.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Classification)
	assert.Equal(t, "metal", *resp.Classification)
	assert.True(t, resp.Bins["metal"])
	assert.False(t, resp.Bins["paper"])
	require.NotNil(t, resp.Climate)
	assert.Equal(t, 21.5, resp.Climate.Temperature)
}

func TestGetImage(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/image", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	path := filepath.Join(t.TempDir(), "cropped.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))
	env.snapshots.SetClassification(time.Now(), classifier.Paper, path)

	w = env.do(http.MethodGet, "/api/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg bytes", w.Body.String())
}

func TestSortsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, c := range []string{"metal", "metal", "trash"} {
		require.NoError(t, env.store.RecordSort(ctx, &model.SortRecord{
			ID:          fmt.Sprintf("id-%d", i),
			Category:    c,
			Fallback:    c == "trash",
			StartedAt:   t0.Add(time.Duration(i) * time.Minute),
			CompletedAt: t0.Add(time.Duration(i)*time.Minute + 5*time.Second),
		}))
	}

	w := env.do(http.MethodGet, "/api/sorts?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sorts []sortResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sorts))
	require.Len(t, sorts, 2)
	assert.Equal(t, "id-2", sorts[0].ID)
	assert.True(t, sorts[0].Fallback)

	w = env.do(http.MethodGet, "/api/sorts?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/sorts/stats?since="+t0.Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Total  int64            `json:"total"`
		Counts map[string]int64 `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, map[string]int64{"paper": 0, "plastic": 0, "metal": 2, "trash": 1}, stats.Counts)

	w = env.do(http.MethodGet, "/api/sorts/stats?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBinsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, env.store.RecordBinTransition(ctx, model.BinKey(bins.Metal), true, t0))
	require.NoError(t, env.store.RecordBinTransition(ctx, model.BinKey(bins.Metal), false, t0.Add(time.Hour)))

	w := env.do(http.MethodGet, "/api/bins", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []store.BinView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 4)
	assert.Equal(t, "metal", views[2].Name)
	assert.True(t, views[2].Enabled)
	require.NotNil(t, views[2].Full)
	assert.False(t, *views[2].Full)
	assert.Nil(t, views[0].Full)

	w = env.do(http.MethodGet, "/api/bins/metal/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Bin         string               `json:"bin"`
		Transitions []transitionResponse `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, "metal", history.Bin)
	require.Len(t, history.Transitions, 2)
	assert.False(t, history.Transitions[0].Full)
	require.NotNil(t, history.Transitions[0].PeriodStart)
	assert.True(t, history.Transitions[0].PeriodStart.Equal(t0))
	assert.Nil(t, history.Transitions[1].PeriodStart)

	w = env.do(http.MethodGet, "/api/bins/glass/history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBinsEndpoint_Cached(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(http.MethodGet, "/api/bins", nil)
	require.Equal(t, http.StatusOK, first.Code)

	require.NoError(t, env.store.RecordBinTransition(context.Background(), model.BinKey(bins.Paper), true, time.Now()))

	second := env.do(http.MethodGet, "/api/bins", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestGetVAPIDPublicKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"public-key"}`, w.Body.String())
}
