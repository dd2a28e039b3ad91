// ABOUTME: Tests for the HTTP auth middleware and context helpers
// ABOUTME: Covers bare and Bearer tokens, rejection paths, and anonymous mode

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(id.Subject + "/" + id.Transport))
	})
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "abc", token: "abc"},
		{header: "Bearer abc", token: "abc"},
		{header: "bearer   abc ", token: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		token, errMsg := extractToken(tt.header)
		if tt.wantErr {
			assert.NotEmpty(t, errMsg, "header %q", tt.header)
			continue
		}
		assert.Empty(t, errMsg, "header %q", tt.header)
		assert.Equal(t, tt.token, token)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("worker-1", time.Hour)
	require.NoError(t, err)

	handler := HTTPMiddleware(verifier, nil)(subjectEcho())

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "bare token", header: token, code: http.StatusOK, body: "worker-1/http"},
		{name: "bearer token", header: "Bearer " + token, code: http.StatusOK, body: "worker-1/http"},
		{name: "missing header", header: "", code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", code: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mesh_manager_poll", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestNoAuthHTTPMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NoAuthHTTPMiddleware()(subjectEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous/http", rec.Body.String())
}

func TestSubjectFromContext(t *testing.T) {
	assert.Equal(t, Anonymous, SubjectFromContext(context.Background()))
	ctx := WithIdentity(context.Background(), &Identity{Subject: "alice"})
	assert.Equal(t, "alice", SubjectFromContext(ctx))
}
