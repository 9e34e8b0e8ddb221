package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
	"github.com/dbbridge-io/dbbridge-engine/pkg/logging"
	"github.com/dbbridge-io/dbbridge-engine/pkg/schema"
	sqlcheck "github.com/dbbridge-io/dbbridge-engine/pkg/sql"
)

// ResultEnvelope is the uniform outcome shape for every operation on every
// engine. Count fields are pointers so only the one relevant to the
// operation appears in the serialized form.
type ResultEnvelope struct {
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	Count        *int64 `json:"count,omitempty"`
	UpdatedCount *int64 `json:"updatedCount,omitempty"`
	DeletedCount *int64 `json:"deletedCount,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Executor runs validated operations against whatever CRUD adapter the
// connection provides. It never branches on the engine: the adapter is the
// only polymorphism point.
type Executor struct {
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an executor. timeout bounds each engine call; zero means no
// bound beyond the caller's context.
func New(timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		timeout: timeout,
		logger:  logger,
	}
}

// Execute validates the request against the cached schema and dispatches it.
// The envelope always describes the outcome; the error mirrors failure for
// callers that classify with errors.Is.
func (x *Executor) Execute(ctx context.Context, sch *schema.CanonicalSchema, crud datasource.CRUDAdapter, entity string, op Operation) (ResultEnvelope, error) {
	entitySchema, ok := sch.Entity(entity)
	if !ok {
		err := fmt.Errorf("%w: %q is not in the schema", apperrors.ErrUnknownEntity, entity)
		return failure(err), err
	}

	x.screen(entitySchema, op)

	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	envelope, err := x.dispatch(ctx, crud, entity, op)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s on %s", apperrors.ErrTimeout, op.Kind(), entity)
		}
		x.logger.Warn("operation failed",
			zap.String("entity", entity),
			zap.String("operation", string(op.Kind())),
			zap.String("error", logging.SanitizeError(err)),
		)
		return failure(err), err
	}
	return envelope, nil
}

func (x *Executor) dispatch(ctx context.Context, crud datasource.CRUDAdapter, entity string, op Operation) (ResultEnvelope, error) {
	switch v := op.(type) {
	case CreateOp:
		records, err := crud.CreateRecord(ctx, entity, v.Data)
		if err != nil {
			return ResultEnvelope{}, err
		}
		return ResultEnvelope{
			Success: true,
			Data:    records,
			Message: "record created",
		}, nil

	case ReadOp:
		records, err := crud.ReadRecords(ctx, entity, v.Filter, v.Options)
		if err != nil {
			return ResultEnvelope{}, err
		}
		count := int64(len(records))
		return ResultEnvelope{
			Success: true,
			Data:    records,
			Count:   &count,
		}, nil

	case UpdateOp:
		result, err := crud.UpdateRecords(ctx, entity, v.Filter, v.Data)
		if err != nil {
			return ResultEnvelope{}, err
		}
		envelope := ResultEnvelope{
			Success:      true,
			UpdatedCount: &result.ModifiedCount,
			Message:      fmt.Sprintf("%d record(s) updated", result.ModifiedCount),
		}
		if result.Records != nil {
			envelope.Data = result.Records
		}
		return envelope, nil

	case DeleteOp:
		deleted, err := crud.DeleteRecords(ctx, entity, v.Filter)
		if err != nil {
			return ResultEnvelope{}, err
		}
		return ResultEnvelope{
			Success:      true,
			DeletedCount: &deleted,
			Message:      fmt.Sprintf("%d record(s) deleted", deleted),
		}, nil

	default:
		return ResultEnvelope{}, fmt.Errorf("%w: unhandled operation %T", apperrors.ErrValidation, op)
	}
}

// screen logs fields absent from the cached schema and values that trip the
// injection detector. Neither rejects the operation: the schema may simply
// be a moment stale, and every value travels as a bind parameter.
func (x *Executor) screen(entitySchema schema.EntitySchema, op Operation) {
	var maps []map[string]any
	switch v := op.(type) {
	case CreateOp:
		maps = []map[string]any{v.Data}
	case ReadOp:
		maps = []map[string]any{v.Filter}
	case UpdateOp:
		maps = []map[string]any{v.Filter, v.Data}
	case DeleteOp:
		maps = []map[string]any{v.Filter}
	}

	for _, m := range maps {
		for field := range m {
			if !entitySchema.HasField(field) && len(entitySchema.Fields) > 0 {
				x.logger.Warn("field not in cached schema",
					zap.String("entity", entitySchema.Name),
					zap.String("field", field),
				)
			}
		}
		for _, hit := range sqlcheck.CheckAllValues(m) {
			x.logger.Warn("suspicious value in operation payload",
				zap.String("entity", entitySchema.Name),
				zap.String("field", hit.FieldName),
				zap.String("fingerprint", hit.Fingerprint),
			)
		}
	}
}

func failure(err error) ResultEnvelope {
	return ResultEnvelope{
		Success: false,
		Message: "operation failed",
		Error:   logging.SanitizeError(err),
	}
}
