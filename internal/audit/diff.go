// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/goccy/go-json"
)

// DefaultVolatileFields change on every write and are never reported as
// changed.
var DefaultVolatileFields = []string{"updatedAt", "updated_at", "lastModified", "last_modified"}

// normalizeValues round-trips values through JSON so that structs, typed
// maps and numeric types compare by their serialized form. Numbers decode
// as json.Number to keep long identifiers exact.
func normalizeValues(values map[string]any) (map[string]any, error) {
	if values == nil {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal values: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := make(map[string]any, len(values))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return out, nil
}

// ChangedFields returns the sorted keys of oldValues and newValues whose
// values differ, ignoring volatile fields. A key present on one side only
// counts as changed. Inputs are expected to be normalized.
func ChangedFields(oldValues, newValues map[string]any, volatile map[string]struct{}) []string {
	keys := make(map[string]struct{}, len(oldValues)+len(newValues))
	for k := range oldValues {
		keys[k] = struct{}{}
	}
	for k := range newValues {
		keys[k] = struct{}{}
	}

	changed := make([]string, 0, len(keys))
	for k := range keys {
		if _, skip := volatile[k]; skip {
			continue
		}
		ov, inOld := oldValues[k]
		nv, inNew := newValues[k]
		if inOld != inNew || !reflect.DeepEqual(ov, nv) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func fieldSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
