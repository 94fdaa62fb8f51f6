package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwearlab/studygate/pkg/autherr"
	"github.com/openwearlab/studygate/pkg/contextkeys"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteAuthError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"expired", autherr.New(autherr.KindExpired, "past ttl"), http.StatusUnauthorized, "expired"},
		{"unauthorized", autherr.New(autherr.KindUnauthorized, "no permission"), http.StatusForbidden, "unauthorized"},
		{"missing csrf", autherr.New(autherr.KindMissingCsrf, ""), http.StatusForbidden, "missing_csrf"},
		{"wrapped revoked", fmt.Errorf("validate: %w", autherr.New(autherr.KindRevoked, "jti listed")), http.StatusUnauthorized, "revoked"},
		{"plain error fails closed", fmt.Errorf("boom"), http.StatusUnauthorized, "unauthenticated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAuthError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, rec).ErrorCode)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteAuthErrorDoesNotLeakAccountState(t *testing.T) {
	archived := httptest.NewRecorder()
	WriteAuthError(archived, autherr.New(autherr.KindAccountArchived, "account 7 archived"))

	missing := httptest.NewRecorder()
	WriteAuthError(missing, autherr.New(autherr.KindAccountNotFound, "no such email"))

	assert.Equal(t, decodeBody(t, archived), decodeBody(t, missing))
	assert.NotContains(t, archived.Body.String(), "account 7")
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewarePreservesInbound(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}
