package types

// JSONMap stores loosely structured metadata in a jsonb column via the gorm
// json serializer.
type JSONMap map[string]any

// Merge returns a copy of m with the entries of other layered on top.
func (m JSONMap) Merge(other JSONMap) JSONMap {
	if len(m) == 0 && len(other) == 0 {
		return nil
	}
	merged := make(JSONMap, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
