package handlers

import (
	"fmt"
	"io"
	"net/http"
)

// Response is what views and middleware return. Stream, when set, is copied
// after Body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stream io.Reader
}

func NewResponse(status int, body string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &Response{Status: status, Header: h, Body: []byte(body)}
}

// PermanentRedirect answers 301 with Location set to url.
func PermanentRedirect(url string) *Response {
	resp := NewResponse(http.StatusMovedPermanently, "")
	resp.Header.Set("Location", url)
	return resp
}

func Gone() *Response {
	return NewResponse(http.StatusGone, "")
}

func BadRequest() *Response {
	return NewResponse(http.StatusBadRequest, "<h1>Bad Request (400)</h1>")
}

func NotFound(path string) *Response {
	return NewResponse(http.StatusNotFound, fmt.Sprintf("<h1>Not Found</h1><p>The requested URL %s was not found on this server.</p>", path))
}

func ServerError() *Response {
	return NewResponse(http.StatusInternalServerError, "<h1>Server Error (500)</h1>")
}

func (r *Response) ReasonPhrase() string {
	if text := http.StatusText(r.Status); text != "" {
		return text
	}
	return "Unknown Status Code"
}

// StatusLine renders "<code> <reason>".
func (r *Response) StatusLine() string {
	return fmt.Sprintf("%d %s", r.Status, r.ReasonPhrase())
}

func (r *Response) write(w http.ResponseWriter) error {
	for k, values := range r.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		if _, err := w.Write(r.Body); err != nil {
			return err
		}
	}
	if r.Stream != nil {
		if _, err := io.Copy(w, r.Stream); err != nil {
			return err
		}
	}
	return nil
}
