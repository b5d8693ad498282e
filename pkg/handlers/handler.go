// Package handlers adapts net/http requests to views wrapped in a lazily
// loaded middleware chain.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/eleven-am/modelkit/pkg/dispatch"
	"github.com/eleven-am/modelkit/pkg/orm"
)

// ErrNotFound makes the handler answer 404.
var ErrNotFound = errors.New("not found")

// ErrSuspiciousOperation makes the handler answer 400.
var ErrSuspiciousOperation = errors.New("suspicious operation")

// View produces the response for a request.
type View func(ctx context.Context, req *Request) (*Response, error)

// RequestProcessor runs before the view; a non-nil response short-circuits it.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *Request) (*Response, error)
}

// ResponseProcessor sees every response on its way out, in reverse load order.
type ResponseProcessor interface {
	ProcessResponse(ctx context.Context, req *Request, resp *Response) (*Response, error)
}

// MiddlewareFactory builds one middleware. The value must implement
// RequestProcessor, ResponseProcessor, or both.
type MiddlewareFactory func() (interface{}, error)

// Logger is the structured logger the handler reports through.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// RequestEvent is sent when a request starts and when its response has been
// written.
type RequestEvent struct {
	Handler *Handler
	Request *http.Request
}

// Signals are the request lifecycle signals, shared by every handler built
// with the same value.
type Signals struct {
	RequestStarted  *dispatch.Signal[RequestEvent]
	RequestFinished *dispatch.Signal[RequestEvent]
}

func NewSignals() *Signals {
	return &Signals{
		RequestStarted:  dispatch.New[RequestEvent]("request_started"),
		RequestFinished: dispatch.New[RequestEvent]("request_finished"),
	}
}

type Option func(*Handler)

func WithMiddleware(factories ...MiddlewareFactory) Option {
	return func(h *Handler) { h.factories = append(h.factories, factories...) }
}

func WithScriptName(prefix string) Option {
	return func(h *Handler) { h.scriptName = prefix }
}

func WithLogger(logger Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithSignals(signals *Signals) Option {
	return func(h *Handler) { h.signals = signals }
}

// WithAtomicRequests runs every view inside a transaction on alias.
func WithAtomicRequests(reg *orm.Registry, alias string) Option {
	return func(h *Handler) {
		h.atomic = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return reg.Atomic(ctx, alias, fn)
		}
	}
}

// Handler serves HTTP by building a Request, running the middleware chain
// around the view and writing the Response.
type Handler struct {
	view       View
	factories  []MiddlewareFactory
	scriptName string
	logger     Logger
	signals    *Signals
	atomic     func(ctx context.Context, fn func(ctx context.Context) error) error

	initMu   sync.Mutex
	loaded   bool
	request  []RequestProcessor
	response []ResponseProcessor
}

func New(view View, opts ...Option) *Handler {
	h := &Handler{view: view, logger: nopLogger{}}
	for _, opt := range opts {
		opt(h)
	}
	if h.signals == nil {
		h.signals = NewSignals()
	}
	return h
}

func (h *Handler) Signals() *Signals { return h.signals }

// LoadMiddleware builds the middleware chain once. A failing factory leaves
// the handler unloaded so the next request retries.
func (h *Handler) LoadMiddleware() error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	if h.loaded {
		return nil
	}

	var (
		request  []RequestProcessor
		response []ResponseProcessor
	)
	for i, factory := range h.factories {
		mw, err := factory()
		if err != nil {
			return fmt.Errorf("failed to load middleware %d: %w", i, err)
		}
		rp, isRequest := mw.(RequestProcessor)
		sp, isResponse := mw.(ResponseProcessor)
		if !isRequest && !isResponse {
			return fmt.Errorf("middleware %d (%T) processes neither requests nor responses", i, mw)
		}
		if isRequest {
			request = append(request, rp)
		}
		if isResponse {
			response = append(response, sp)
		}
	}

	h.request, h.response = request, response
	h.loaded = true
	return nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.LoadMiddleware(); err != nil {
		h.logger.Error("middleware failed to load", "error", err)
		h.write(w, r, ServerError())
		return
	}

	ctx := r.Context()
	if err := h.signals.RequestStarted.Send(ctx, h, RequestEvent{Handler: h, Request: r}); err != nil {
		h.logger.Error("request_started receiver failed", "error", err)
	}

	var resp *Response
	req, err := NewRequest(r, h.scriptName)
	if err != nil {
		h.logger.Warn("Bad Request (UnicodeDecodeError)",
			"status_code", http.StatusBadRequest,
			"path", r.URL.Path,
			"error", err)
		resp = BadRequest()
	} else {
		resp = h.GetResponse(ctx, req)
		resp.Header.Set("X-Request-Id", req.ID)
	}

	h.write(w, r, resp)

	if err := h.signals.RequestFinished.Send(ctx, h, RequestEvent{Handler: h, Request: r}); err != nil {
		h.logger.Error("request_finished receiver failed", "error", err)
	}
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, resp *Response) {
	if err := resp.write(w); err != nil {
		h.logger.Warn("failed to write response", "path", r.URL.Path, "error", err)
	}
}

// GetResponse runs the request processors, the view and the response
// processors. Errors become 400, 404 or 500 responses.
func (h *Handler) GetResponse(ctx context.Context, req *Request) *Response {
	resp, err := h.dispatch(ctx, req)
	if err != nil {
		resp = h.errorResponse(req, err)
	}

	for i := len(h.response) - 1; i >= 0; i-- {
		next, err := h.response[i].ProcessResponse(ctx, req, resp)
		if err != nil {
			resp = h.errorResponse(req, err)
			continue
		}
		if next != nil {
			resp = next
		}
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req *Request) (*Response, error) {
	for _, mw := range h.request {
		resp, err := mw.ProcessRequest(ctx, req)
		if err != nil || resp != nil {
			return resp, err
		}
	}

	if h.view == nil {
		return nil, ErrNotFound
	}

	if h.atomic == nil {
		return h.callView(ctx, req)
	}
	var resp *Response
	err := h.atomic(ctx, func(ctx context.Context) error {
		var err error
		resp, err = h.callView(ctx, req)
		return err
	})
	return resp, err
}

func (h *Handler) callView(ctx context.Context, req *Request) (*Response, error) {
	resp, err := h.view(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("the view for %s didn't return a response", req.Path)
	}
	return resp, nil
}

func (h *Handler) errorResponse(req *Request, err error) *Response {
	switch {
	case errors.Is(err, ErrNotFound), orm.IsDoesNotExist(err):
		return NotFound(req.Path)
	case errors.Is(err, ErrSuspiciousOperation), errors.Is(err, ErrBadRequest):
		h.logger.Warn("suspicious request", "path", req.Path, "error", err)
		return BadRequest()
	}
	h.logger.Error("internal server error", "path", req.Path, "request_id", req.ID, "error", err)
	return ServerError()
}
