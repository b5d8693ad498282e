package orm

import (
	"context"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
)

// OperationType represents different types of database operations
type OperationType string

const (
	OpQuery      OperationType = "query"
	OpCount      OperationType = "count"
	OpCreate     OperationType = "create"
	OpCreateMany OperationType = "create_many"
	OpUpdate     OperationType = "update"
	OpDelete     OperationType = "delete"
	OpRaw        OperationType = "raw"
)

// MiddlewareContext contains information passed to middleware
type MiddlewareContext struct {
	Operation    OperationType
	TableName    string
	Alias        string
	QueryBuilder squirrel.Sqlizer
	Query        string
	Args         []interface{}
	RowsAffected int64
	StartTime    time.Time
	Context      context.Context
	Metadata     map[string]interface{}
}

// QueryMiddlewareFunc represents middleware that can modify queries
type QueryMiddlewareFunc func(ctx *MiddlewareContext) error

// QueryMiddleware represents middleware that can see and modify query builders
type QueryMiddleware func(next QueryMiddlewareFunc) QueryMiddlewareFunc

// middlewareManager manages database middleware
type middlewareManager struct {
	mu         sync.RWMutex
	middleware []QueryMiddleware
}

func newMiddlewareManager() *middlewareManager {
	return &middlewareManager{
		middleware: make([]QueryMiddleware, 0),
	}
}

func (mm *middlewareManager) AddMiddleware(middleware QueryMiddleware) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.middleware = append(mm.middleware, middleware)
}

func (mm *middlewareManager) ExecuteMiddleware(ctx *MiddlewareContext, finalFunc QueryMiddlewareFunc) error {
	mm.mu.RLock()
	chain := make([]QueryMiddleware, len(mm.middleware))
	copy(chain, mm.middleware)
	mm.mu.RUnlock()

	handler := finalFunc
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}

	return handler(ctx)
}

// LoggingMiddleware logs every statement at debug level and failures at warn.
func LoggingMiddleware(logger Logger) QueryMiddleware {
	return func(next QueryMiddlewareFunc) QueryMiddlewareFunc {
		return func(ctx *MiddlewareContext) error {
			err := next(ctx)

			duration := time.Since(ctx.StartTime)
			if err != nil {
				logger.Warn("query failed",
					"operation", ctx.Operation,
					"table", ctx.TableName,
					"alias", ctx.Alias,
					"duration", duration,
					"error", err)
				return err
			}

			logger.Debug("query executed",
				"operation", ctx.Operation,
				"table", ctx.TableName,
				"alias", ctx.Alias,
				"sql", ctx.Query,
				"duration", duration)
			return nil
		}
	}
}

// MetricsCollector interface for collecting metrics
type MetricsCollector interface {
	RecordOperation(operation, table string, duration time.Duration, hasError bool)
}

// MetricsMiddleware collects operation metrics
func MetricsMiddleware(collector MetricsCollector) QueryMiddleware {
	return func(next QueryMiddlewareFunc) QueryMiddlewareFunc {
		return func(ctx *MiddlewareContext) error {
			start := time.Now()

			err := next(ctx)

			collector.RecordOperation(string(ctx.Operation), ctx.TableName, time.Since(start), err != nil)

			return err
		}
	}
}
