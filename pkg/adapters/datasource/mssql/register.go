package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        datasource.TypeSQLServer,
			DisplayName: "SQL Server",
			Description: "SQL Server 2017+ and Azure SQL Database",
		},
		Factory: func(ctx context.Context, desc datasource.Descriptor, opts datasource.AdapterOptions, logger *zap.Logger) (datasource.EngineAdapter, error) {
			return New(ctx, desc, opts, logger)
		},
	})
}
