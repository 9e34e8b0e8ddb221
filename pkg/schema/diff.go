package schema

import "sort"

// FieldChange identifies one added or removed field.
type FieldChange struct {
	EntityName string `json:"entity_name"`
	FieldName  string `json:"field_name"`
	DataType   string `json:"data_type,omitempty"`
}

// ChangeSummary describes the structural differences between two snapshots
// of the same tenant schema. It is the payload handed to notification sinks
// when a schema change is observed.
type ChangeSummary struct {
	AddedEntities   []string      `json:"added_entities,omitempty"`
	RemovedEntities []string      `json:"removed_entities,omitempty"`
	AddedFields     []FieldChange `json:"added_fields,omitempty"`
	RemovedFields   []FieldChange `json:"removed_fields,omitempty"`
}

// Empty reports whether the summary contains no changes.
func (c ChangeSummary) Empty() bool {
	return len(c.AddedEntities) == 0 && len(c.RemovedEntities) == 0 &&
		len(c.AddedFields) == 0 && len(c.RemovedFields) == 0
}

// Diff compares two schema snapshots. Either side may be nil, in which case
// every entity on the other side is reported as added or removed.
// Output slices are sorted for stable presentation.
func Diff(old, new *CanonicalSchema) ChangeSummary {
	var summary ChangeSummary

	oldEntities := map[string]EntitySchema{}
	if old != nil {
		oldEntities = old.Entities
	}
	newEntities := map[string]EntitySchema{}
	if new != nil {
		newEntities = new.Entities
	}

	for name, newEntity := range newEntities {
		oldEntity, existed := oldEntities[name]
		if !existed {
			summary.AddedEntities = append(summary.AddedEntities, name)
			continue
		}
		for _, f := range newEntity.Fields {
			if !oldEntity.HasField(f.Name) {
				summary.AddedFields = append(summary.AddedFields, FieldChange{
					EntityName: name,
					FieldName:  f.Name,
					DataType:   f.DataType,
				})
			}
		}
		for _, f := range oldEntity.Fields {
			if !newEntity.HasField(f.Name) {
				summary.RemovedFields = append(summary.RemovedFields, FieldChange{
					EntityName: name,
					FieldName:  f.Name,
				})
			}
		}
	}

	for name := range oldEntities {
		if _, still := newEntities[name]; !still {
			summary.RemovedEntities = append(summary.RemovedEntities, name)
		}
	}

	sort.Strings(summary.AddedEntities)
	sort.Strings(summary.RemovedEntities)
	sortFieldChanges(summary.AddedFields)
	sortFieldChanges(summary.RemovedFields)

	return summary
}

func sortFieldChanges(changes []FieldChange) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].EntityName != changes[j].EntityName {
			return changes[i].EntityName < changes[j].EntityName
		}
		return changes[i].FieldName < changes[j].FieldName
	})
}
