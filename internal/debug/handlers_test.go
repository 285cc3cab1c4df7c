package debug

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulahendry/acp-ui/internal/bridge/traffic"
)

func newTestRouter(recorder *traffic.Recorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandlers(recorder).SetupRoutes(router)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestListTraffic(t *testing.T) {
	recorder := traffic.NewRecorder(10)
	recorder.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	recorder.Record("incoming", []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	recorder.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"session/update","params":{}}`))

	router := newTestRouter(recorder)

	w, body := doRequest(t, router, http.MethodGet, "/debug/traffic")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, false, body["paused"])
}

func TestListTrafficFilters(t *testing.T) {
	recorder := traffic.NewRecorder(10)
	recorder.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	recorder.Record("incoming", []byte(`{"jsonrpc":"2.0","method":"session/update"}`))

	router := newTestRouter(recorder)

	_, body := doRequest(t, router, http.MethodGet, "/debug/traffic?type=notification")
	assert.Equal(t, float64(1), body["count"])

	_, body = doRequest(t, router, http.MethodGet, "/debug/traffic?search=initialize")
	assert.Equal(t, float64(1), body["count"])

	_, body = doRequest(t, router, http.MethodGet, "/debug/traffic?search=nomatch")
	assert.Equal(t, float64(0), body["count"])
}

func TestPauseResumeClear(t *testing.T) {
	recorder := traffic.NewRecorder(10)
	router := newTestRouter(recorder)

	w, body := doRequest(t, router, http.MethodPost, "/debug/traffic/pause")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["paused"])
	assert.True(t, recorder.Paused())

	recorder.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`))
	assert.Equal(t, 0, recorder.Len())

	_, body = doRequest(t, router, http.MethodPost, "/debug/traffic/resume")
	assert.Equal(t, false, body["paused"])

	recorder.Record("outgoing", []byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`))
	require.Equal(t, 1, recorder.Len())

	_, body = doRequest(t, router, http.MethodPost, "/debug/traffic/clear")
	assert.Equal(t, true, body["cleared"])
	assert.Equal(t, 0, recorder.Len())
}
