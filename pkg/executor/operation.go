package executor

import (
	"encoding/json"
	"fmt"

	"github.com/dbbridge-io/dbbridge-engine/pkg/adapters/datasource"
	"github.com/dbbridge-io/dbbridge-engine/pkg/apperrors"
)

// Kind names one CRUD operation.
type Kind string

const (
	KindCreate Kind = "create"
	KindRead   Kind = "read"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Operation is one validated CRUD request. Exactly one concrete variant
// exists per kind; the executor switches on the variant, never on strings.
type Operation interface {
	Kind() Kind
	Validate() error
}

// CreateOp inserts one record.
type CreateOp struct {
	Data map[string]any
}

func (CreateOp) Kind() Kind { return KindCreate }

func (op CreateOp) Validate() error {
	if op.Data == nil {
		return fmt.Errorf("%w: create payload must be an object", apperrors.ErrValidation)
	}
	return nil
}

// ReadOp returns records matching an equality filter.
type ReadOp struct {
	Filter  datasource.RecordFilter
	Options datasource.ReadOptions
}

func (ReadOp) Kind() Kind { return KindRead }

func (op ReadOp) Validate() error {
	if op.Options.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", apperrors.ErrValidation)
	}
	if op.Options.Offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", apperrors.ErrValidation)
	}
	for _, ord := range op.Options.OrderBy {
		if ord.Field == "" {
			return fmt.Errorf("%w: order field must not be empty", apperrors.ErrValidation)
		}
	}
	return nil
}

// UpdateOp applies a partial record to all matches.
type UpdateOp struct {
	Filter datasource.RecordFilter
	Data   map[string]any
}

func (UpdateOp) Kind() Kind { return KindUpdate }

func (op UpdateOp) Validate() error {
	if len(op.Data) == 0 {
		return fmt.Errorf("%w: update data must not be empty", apperrors.ErrValidation)
	}
	return nil
}

// DeleteOp removes all matches.
type DeleteOp struct {
	Filter datasource.RecordFilter
}

func (DeleteOp) Kind() Kind { return KindDelete }

func (op DeleteOp) Validate() error {
	if len(op.Filter) == 0 {
		return fmt.Errorf("%w: delete requires a filter", apperrors.ErrValidation)
	}
	return nil
}

// readPayload is the wire shape of a read request. "where"/"filter",
// "offset"/"skip" and "orderBy"/"sort" are accepted interchangeably.
type readPayload struct {
	Where   map[string]any           `json:"where"`
	Filter  map[string]any           `json:"filter"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
	Skip    int                      `json:"skip"`
	OrderBy []datasource.OrderField  `json:"orderBy"`
	Sort    []datasource.OrderField  `json:"sort"`
}

// updatePayload is the wire shape of an update request.
type updatePayload struct {
	Where map[string]any `json:"where"`
	Data  map[string]any `json:"data"`
}

// DecodeOperation parses a wire request into its tagged variant and
// validates it. Create payloads are the record itself; delete payloads are
// the filter itself.
func DecodeOperation(kind string, payload json.RawMessage) (Operation, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var op Operation
	switch Kind(kind) {
	case KindCreate:
		var data map[string]any
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("%w: decode create payload: %v", apperrors.ErrValidation, err)
		}
		op = CreateOp{Data: data}

	case KindRead:
		var p readPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode read payload: %v", apperrors.ErrValidation, err)
		}
		filter := p.Where
		if filter == nil {
			filter = p.Filter
		}
		offset := p.Offset
		if offset == 0 {
			offset = p.Skip
		}
		orderBy := p.OrderBy
		if orderBy == nil {
			orderBy = p.Sort
		}
		op = ReadOp{
			Filter: filter,
			Options: datasource.ReadOptions{
				Limit:   p.Limit,
				Offset:  offset,
				OrderBy: orderBy,
			},
		}

	case KindUpdate:
		var p updatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: decode update payload: %v", apperrors.ErrValidation, err)
		}
		op = UpdateOp{Filter: p.Where, Data: p.Data}

	case KindDelete:
		var filter map[string]any
		if err := json.Unmarshal(payload, &filter); err != nil {
			return nil, fmt.Errorf("%w: decode delete payload: %v", apperrors.ErrValidation, err)
		}
		op = DeleteOp{Filter: filter}

	default:
		return nil, fmt.Errorf("%w: unknown operation %q", apperrors.ErrValidation, kind)
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}
