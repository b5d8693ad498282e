package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrBadRequest marks a request that cannot be turned into a Request.
var ErrBadRequest = errors.New("bad request")

// Request is the structured view of an incoming HTTP request.
type Request struct {
	ID         string
	Method     string
	ScriptName string
	PathInfo   string
	// Path is ScriptName joined with PathInfo.
	Path     string
	RawQuery string
	Query    url.Values
	Header   http.Header
	Cookies  map[string]string
	Host     string
	Secure   bool
	// Encoding is the charset named by Content-Type when it is a known
	// encoding, and "" otherwise.
	Encoding      string
	ContentLength int64

	body     io.Reader
	encoding encoding.Encoding
	raw      *http.Request
}

// NewRequest builds a Request from r. scriptName is the prefix the handler is
// mounted under; it is stripped from the URL path to form PathInfo. A path
// that is not valid UTF-8 fails with ErrBadRequest.
func NewRequest(r *http.Request, scriptName string) (*Request, error) {
	scriptName = strings.TrimRight(scriptName, "/")
	pathInfo := r.URL.Path
	if scriptName != "" && strings.HasPrefix(pathInfo, scriptName) {
		pathInfo = pathInfo[len(scriptName):]
	}
	if !utf8.ValidString(pathInfo) {
		return nil, fmt.Errorf("%w: path %q is not valid UTF-8", ErrBadRequest, pathInfo)
	}
	if pathInfo == "" {
		pathInfo = "/"
	}

	req := &Request{
		ID:         uuid.NewString(),
		Method:     strings.ToUpper(r.Method),
		ScriptName: scriptName,
		PathInfo:   pathInfo,
		Path:       scriptName + "/" + strings.TrimLeft(pathInfo, "/"),
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Cookies:    make(map[string]string),
		Host:       r.Host,
		Secure:     r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
		raw:        r,
	}
	if id := r.Header.Get("X-Request-Id"); id != "" {
		req.ID = id
	}

	// a malformed pair is dropped, the rest are kept
	req.Query, _ = url.ParseQuery(r.URL.RawQuery)

	for _, c := range r.Cookies() {
		req.Cookies[c.Name] = c.Value
	}

	if _, params, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
		if charset, ok := params["charset"]; ok {
			if enc, err := htmlindex.Get(charset); err == nil {
				req.encoding = enc
				req.Encoding, _ = htmlindex.Name(enc)
			}
		}
	}

	req.ContentLength = r.ContentLength
	if req.ContentLength < 0 {
		req.ContentLength = 0
	}
	if r.Body != nil {
		req.body = io.LimitReader(r.Body, req.ContentLength)
	} else {
		req.body = strings.NewReader("")
	}

	return req, nil
}

// FullPath is Path plus the query string, if any.
func (r *Request) FullPath() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

func (r *Request) Context() context.Context {
	if r.raw == nil {
		return context.Background()
	}
	return r.raw.Context()
}

// HTTP returns the underlying request.
func (r *Request) HTTP() *http.Request {
	return r.raw
}

// Body reads at most ContentLength bytes of the request body.
func (r *Request) Body() io.Reader {
	return r.body
}

// PostForm parses an application/x-www-form-urlencoded POST body, decoding it
// from the request charset first. Other requests yield empty values.
func (r *Request) PostForm() (url.Values, error) {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return url.Values{}, nil
	}
	body := r.body
	if r.encoding != nil {
		body = r.encoding.NewDecoder().Reader(body)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return values, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return values, nil
}
