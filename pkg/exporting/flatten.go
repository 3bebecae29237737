package exporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Keys holding nested values that the flattener expands.
const (
	KeyGpus      = "_gpus"
	KeyProcesses = "_processes"
	KeyHealth    = "_health"
)

// FlattenMode controls how arrays are handled
type FlattenMode int

const (
	// FlattenDefault expands GPU metrics into gpu{N}* columns and keeps
	// process lists and health checks as JSON strings.
	FlattenDefault FlattenMode = iota

	// FlattenAll also expands processes into proc{N}* and gpu{N}proc{M}*
	// columns and health checks into check{N}* columns.
	FlattenAll
)

// FlattenRecord flattens r with FlattenDefault.
func FlattenRecord(r Record) Record {
	return FlattenRecordWithMode(r, FlattenDefault)
}

// FlattenRecordExpandAll flattens r with FlattenAll.
func FlattenRecordExpandAll(r Record) Record {
	return FlattenRecordWithMode(r, FlattenAll)
}

// FlattenRecordWithMode returns a record whose values are all scalars or
// JSON strings. Records without nested keys are returned unchanged.
func FlattenRecordWithMode(r Record, mode FlattenMode) Record {
	if r == nil {
		return nil
	}
	_, hasGpus := r[KeyGpus]
	_, hasProcs := r[KeyProcesses]
	_, hasHealth := r[KeyHealth]
	if !hasGpus && !hasProcs && !hasHealth {
		return r
	}

	result := make(Record, len(r))
	for k, v := range r {
		if k != KeyGpus && k != KeyProcesses && k != KeyHealth {
			result[k] = v
		}
	}

	if gpus, ok := normalize(r[KeyGpus]).([]interface{}); ok {
		for i, g := range gpus {
			flattenGpu(result, fmt.Sprintf("gpu%d", i), g, mode)
		}
	}

	if procs, ok := normalize(r[KeyProcesses]).([]interface{}); ok {
		if mode == FlattenAll {
			flattenList(result, "proc", procs)
		} else {
			result["processesJson"] = jsonString(procs)
		}
	}

	if h, ok := normalize(r[KeyHealth]).(map[string]interface{}); ok {
		for _, k := range []string{"healthy_count", "warning_count", "critical_count"} {
			if v, ok := h[k]; ok {
				result["health"+camel(k)] = v
			}
		}
		checks, _ := h["checks"].([]interface{})
		if mode == FlattenAll {
			flattenList(result, "check", checks)
		} else {
			result["healthChecksJson"] = jsonString(checks)
		}
	}
	return result
}

// flattenGpu writes one GpuInfo under prefix: static identity first, then
// the dynamic readings, whose process list follows mode.
func flattenGpu(result Record, prefix string, g interface{}, mode FlattenMode) {
	m, ok := g.(map[string]interface{})
	if !ok {
		return
	}
	if static, ok := m["static_info"].(map[string]interface{}); ok {
		for k, v := range static {
			if k != "index" {
				flattenInto(result, prefix+camel(k), v)
			}
		}
	}
	dyn, ok := m["dynamic_info"].(map[string]interface{})
	if !ok {
		return
	}
	for k, v := range dyn {
		if k != "processes" {
			flattenInto(result, prefix+camel(k), v)
			continue
		}
		procs, _ := v.([]interface{})
		if mode == FlattenAll {
			flattenList(result, prefix+"proc", procs)
		} else {
			result[prefix+"ProcessesJson"] = jsonString(procs)
		}
	}
}

// flattenList expands items into prefix{i}Field columns.
func flattenList(result Record, prefix string, items []interface{}) {
	for i, item := range items {
		flattenInto(result, fmt.Sprintf("%s%d", prefix, i), item)
	}
}

// flattenInto writes v under key, descending into objects. Arrays become
// JSON strings.
func flattenInto(result Record, key string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			flattenInto(result, key+camel(k), inner)
		}
	case []interface{}:
		result[key] = jsonString(val)
	default:
		result[key] = val
	}
}

// normalize turns typed values into the generic form encoding/json
// produces, keeping whole numbers as int64.
func normalize(v interface{}) interface{} {
	switch v.(type) {
	case nil:
		return nil
	case []interface{}, map[string]interface{}:
		return numbers(v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return numbers(out)
}

func numbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = numbers(inner)
		}
	case []interface{}:
		for i, inner := range val {
			val[i] = numbers(inner)
		}
	}
	return v
}

func jsonString(v interface{}) string {
	if v == nil {
		return "[]"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// camel turns a snake_case key into an upper camel case suffix.
func camel(s string) string {
	var b strings.Builder
	for _, part := range strings.Split(s, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
