package endpoints

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/granitedata/granite/common/stats"
)

func Test_AdminServer_StatsHandler(t *testing.T) {
	stat := stats.DefaultStatsReceiver()
	stat.Gauge(stats.ClusterMembershipBackendsTotal).Update(4)
	s := NewAdminServer("localhost:0", stat, nil)

	w := httptest.NewRecorder()
	s.statsHandler(w, httptest.NewRequest("GET", "/admin/metrics.json", nil))

	assert.Equal(t, 200, w.Code)
	var rendered map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &rendered); err != nil {
		t.Fatalf("stats response is not valid json: %v", err)
	}
	assert.Equal(t, float64(4), rendered[stats.ClusterMembershipBackendsTotal])
}

func Test_AdminServer_BackendsHandler(t *testing.T) {
	s := NewAdminServer("localhost:0", stats.NilStatsReceiver(), func(pretty bool) []byte {
		return []byte(`{"backends":[]}`)
	})

	w := httptest.NewRecorder()
	s.backendsHandler(w, httptest.NewRequest("GET", "/admin/backends.json", nil))
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"backends":[]}`, w.Body.String())
}

func Test_HealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	healthHandler(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, "ok", w.Body.String())
}
