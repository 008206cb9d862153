package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.LinkIssued("sent")
	m.LinkIssued("sent")
	m.LinkIssued("dispatch_error")
	m.Verification(OutcomeSuccess)
	m.Verification(OutcomeAlreadyUsed)
	m.ObserveRequest(http.MethodGet, "/games", "200", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.linksIssued.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linksIssued.WithLabelValues("dispatch_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues(OutcomeAlreadyUsed)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requests))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Verification(OutcomeExpired)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gamegroup_login_link_verifications_total{outcome="expired"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
