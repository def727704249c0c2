package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	s := New(":0", func() Status {
		return Status{
			Adapters:   map[string]string{"kick": "running", "youtube": "reconnecting"},
			QueueDepth: 3,
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "running", st.Adapters["kick"])
	assert.Equal(t, "reconnecting", st.Adapters["youtube"])
	assert.Equal(t, 3, st.QueueDepth)
}

func TestHealthEndpoint(t *testing.T) {
	s := New(":0", func() Status { return Status{} })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
