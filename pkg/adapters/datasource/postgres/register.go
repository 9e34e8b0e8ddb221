package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        datasource.TypePostgres,
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ with trigger-based schema change notifications",
		},
		Factory: func(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (datasource.EngineAdapter, error) {
			return New(ctx, desc, opts, logger)
		},
	})
}
