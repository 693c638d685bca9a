package tools

import (
	"context"

	"github.com/fentz26/hive/internal/audit"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/store"
)

// TaskStore is the slice of the task store the tools need.
type TaskStore interface {
	Upsert(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, id int64) (models.Task, error)
	Query(ctx context.Context, q store.Query) ([]models.Task, error)
}

// Env is the execution context a tool call runs in.
type Env struct {
	Store TaskStore
	Audit *audit.PDRWriter
	// Actor names who is calling, for the audit trail.
	Actor string
}

type envKey struct{}

// WithEnv binds env to ctx for the tools called under it.
func WithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFrom returns the Env bound to ctx. The bool is false when no task store
// is bound.
func EnvFrom(ctx context.Context) (Env, bool) {
	env, ok := ctx.Value(envKey{}).(Env)
	if !ok || env.Store == nil {
		return Env{}, false
	}
	return env, true
}
