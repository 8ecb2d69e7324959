package audit

import (
	"encoding/json"
	"reflect"
	"sort"
)

// ComputeChanges diffs two snapshots key by key. A field is changed when its
// JSON encoding differs, which includes keys present on only one side.
func ComputeChanges(before, after map[string]interface{}) *Changes {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	fields := make([]string, 0, len(keys))
	for k := range keys {
		b, inBefore := before[k]
		a, inAfter := after[k]
		if inBefore != inAfter || !sameValue(b, a) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)

	return &Changes{Before: before, After: after, Fields: fields}
}

func sameValue(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ja) == string(jb)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
