package audit

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/xela07ax/delegation-governance/internal/domain"
)

// ChangedFields — отсортированные ключи, чьи сериализованные значения различаются.
// Ключ, присутствующий только с одной стороны, тоже считается изменённым.
func ChangedFields(before, after map[string]any) []string {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	changed := make([]string, 0)
	for k := range keys {
		bv, inBefore := before[k]
		av, inAfter := after[k]
		if inBefore != inAfter || !sameJSON(bv, av) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Diff — ChangedFields вместе со значениями.
func Diff(before, after map[string]any) []domain.FieldDiff {
	fields := ChangedFields(before, after)
	out := make([]domain.FieldDiff, 0, len(fields))
	for _, f := range fields {
		out = append(out, domain.FieldDiff{Field: f, Before: before[f], After: after[f]})
	}
	return out
}

func sameJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
