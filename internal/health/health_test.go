package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestCheckAll(t *testing.T) {
	r := NewRegistry("test")
	r.Register(PingChecker("postgres", fakePinger{}))
	r.Register(FuncChecker("redis", func(context.Context) error { return errors.New("dial tcp: refused") }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "redis", statuses[1].Name)
	assert.Equal(t, "dial tcp: refused", statuses[1].Detail)
}

func TestCheckAll_Empty(t *testing.T) {
	healthy, statuses := NewRegistry("test").CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry("1.2.3")
	down := fakePinger{err: errors.New("connection refused")}
	reg.Register(PingChecker("postgres", down))

	router := gin.New()
	reg.RegisterRoutes(router)

	get := func(path string) (*httptest.ResponseRecorder, map[string]any) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return w, body
	}

	w, body := get("/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", body["version"])

	w, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])

	w, _ = get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
