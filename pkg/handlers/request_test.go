package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		scriptName string
		wantPath   string
		wantInfo   string
	}{
		{"root", "/", "", "/", "/"},
		{"plain path", "/initial", "", "/initial", "/initial"},
		{"script name", "/app/initial", "/app", "/app/initial", "/initial"},
		{"script name with slash", "/app/initial", "/app/", "/app/initial", "/initial"},
		{"empty path info", "/app", "/app", "/app/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req, err := NewRequest(r, tt.scriptName)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, req.Path)
			assert.Equal(t, tt.wantInfo, req.PathInfo)
		})
	}
}

func TestRequestFields(t *testing.T) {
	t.Run("method is upper-cased", func(t *testing.T) {
		r := httptest.NewRequest("get", "/", nil)
		req, err := NewRequest(r, "")
		require.NoError(t, err)
		assert.Equal(t, "GET", req.Method)
		assert.NotEmpty(t, req.ID)
	})

	t.Run("incoming request id is kept", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-Id", "abc")
		req, err := NewRequest(r, "")
		require.NoError(t, err)
		assert.Equal(t, "abc", req.ID)
	})

	t.Run("non-ascii query string", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/?want=caf%C3%A9", nil)
		req, err := NewRequest(r, "")
		require.NoError(t, err)
		assert.Equal(t, "café", req.Query.Get("want"))
		assert.Equal(t, "/?want=caf%C3%A9", req.FullPath())
	})

	t.Run("cookies", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Cookie", "want=cafe; other=1")
		req, err := NewRequest(r, "")
		require.NoError(t, err)
		assert.Equal(t, "cafe", req.Cookies["want"])
		assert.Equal(t, "1", req.Cookies["other"])
	})

	t.Run("undecodable path", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/%ED", nil)
		_, err := NewRequest(r, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBadRequest))
	})
}

func TestRequestEncoding(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
	}{
		{"known charset", "text/plain; charset=iso-8859-1", "windows-1252"},
		{"utf-8", "application/x-www-form-urlencoded; charset=UTF-8", "utf-8"},
		{"unknown charset is ignored", "text/plain; charset=bogus", ""},
		{"no charset", "text/plain", ""},
		{"no content type", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			req, err := NewRequest(r, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Encoding)
		})
	}
}

func TestPostForm(t *testing.T) {
	t.Run("decodes with the request charset", func(t *testing.T) {
		// "café" in latin-1, percent-encoded as raw bytes
		body := "want=caf\xe9"
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=iso-8859-1")
		req, err := NewRequest(r, "")
		require.NoError(t, err)

		form, err := req.PostForm()
		require.NoError(t, err)
		assert.Equal(t, "café", form.Get("want"))
	})

	t.Run("body is limited by content length", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=1&b=2"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.ContentLength = 3
		req, err := NewRequest(r, "")
		require.NoError(t, err)

		form, err := req.PostForm()
		require.NoError(t, err)
		assert.Equal(t, "1", form.Get("a"))
		assert.Empty(t, form.Get("b"))
	})

	t.Run("other methods yield nothing", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/?a=1", nil)
		req, err := NewRequest(r, "")
		require.NoError(t, err)
		form, err := req.PostForm()
		require.NoError(t, err)
		assert.Empty(t, form)
	})
}

func TestResponse(t *testing.T) {
	resp := PermanentRedirect("/new_target")
	assert.Equal(t, http.StatusMovedPermanently, resp.Status)
	assert.Equal(t, "/new_target", resp.Header.Get("Location"))
	assert.Equal(t, "301 Moved Permanently", resp.StatusLine())

	assert.Equal(t, "410 Gone", Gone().StatusLine())
	assert.Equal(t, "599 Unknown Status Code", (&Response{Status: 599}).StatusLine())
	assert.Contains(t, string(NotFound("/missing").Body), "/missing")
}
