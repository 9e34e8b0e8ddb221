package mongodb

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        datasource.TypeMongoDB,
			DisplayName: "MongoDB",
			Description: "MongoDB 5+ and Atlas, schema inferred from sampled documents",
		},
		Factory: func(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (datasource.EngineAdapter, error) {
			return New(ctx, desc, opts, logger)
		},
	})
}
