// Package safeserial produces a bounded, acyclic representation of an
// arbitrary document for durable persistence. It never panics, regardless
// of what is thrown at it — cycles, pathological depth, or oversized
// strings are all handled by falling back to a simplified summary rather
// than by erroring out. The summary is kept small by fixed sample limits
// (at most 3 sequence elements or 5 keys, strings and keys cut to 100
// characters); it is not itself measured against the caller's budget, so a
// budget below its size (about a kilobyte at most) can be exceeded.
package safeserial

import (
	"encoding/json"
	"reflect"
	"time"
)

// DefaultBudget is the default size ceiling for a serialized document, per
// spec §4.2.
const DefaultBudget = 50 * 1024

// maxDepth bounds recursion on documents that are acyclic but pathologically
// deep; a cycle detector alone does not protect against that shape.
const maxDepth = 32

const (
	maxSequenceSample = 3
	maxMappingKeys    = 5
	maxStringLen      = 100
)

// Simplified is the sentinel shape emitted when a document cannot be
// serialized as-is.
type Simplified struct {
	Simplified           bool        `json:"simplified"`
	SimplificationReason string      `json:"simplification_reason"`
	OriginalType         string      `json:"original_type"`
	Timestamp            int64       `json:"timestamp"`
	KeyCount             int         `json:"key_count,omitempty"`
	Sample               interface{} `json:"sample,omitempty"`
}

// StatusDigest is the minimal shape emitted for services on the noisy list,
// bypassing the straight-serialization attempt entirely.
type StatusDigest struct {
	Status               string `json:"status"`
	Running              bool   `json:"running"`
	LastCheck            int64  `json:"last_check"`
	CircuitBreakerStatus string `json:"circuit_breaker_status,omitempty"`
	CircuitBreakerOpen   bool   `json:"circuit_breaker_open"`
}

// NowFunc is overridable in tests; production code leaves it as time.Now.
var NowFunc = func() int64 { return time.Now().Unix() }

// Serialize returns doc itself when it is acyclic and serializes to
// <= budget bytes, and otherwise a Simplified summary bounded by the sample
// limits above. It never panics: any internal failure (panic
// from a pathological Stringer, reflection failure, etc.) is recovered and
// converted into a Simplified sentinel.
func Serialize(doc interface{}, budget int) (result interface{}) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	defer func() {
		if r := recover(); r != nil {
			result = simplify(doc, "panic during serialization")
		}
	}()

	if !hasCycle(doc, maxDepth) {
		if data, err := json.Marshal(doc); err == nil && len(data) <= budget {
			return doc
		}
	}

	return simplify(doc, "exceeded size budget or depth limit")
}

// SerializeNoisy emits the minimal status digest for services on a curated
// noisy-services list, skipping the straight-serialization attempt per
// spec §4.2 step 3.
func SerializeNoisy(status string, running bool, lastCheckUnix int64, breakerStatus string, breakerOpen bool) StatusDigest {
	return StatusDigest{
		Status:               status,
		Running:              running,
		LastCheck:            lastCheckUnix,
		CircuitBreakerStatus: breakerStatus,
		CircuitBreakerOpen:   breakerOpen,
	}
}

func simplify(doc interface{}, reason string) Simplified {
	s := Simplified{
		Simplified:           true,
		SimplificationReason: reason,
		OriginalType:         reflect.TypeOf(doc).String(),
		Timestamp:            NowFunc(),
	}

	v := reflect.ValueOf(doc)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return s
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		n := v.Len()
		s.KeyCount = n
		limit := n
		if limit > maxSequenceSample {
			limit = maxSequenceSample
		}
		sample := make([]interface{}, 0, limit)
		for i := 0; i < limit; i++ {
			elem := v.Index(i).Interface()
			if !isPrimitive(elem) {
				elem = reflect.TypeOf(elem).String()
			}
			sample = append(sample, truncatePrimitive(elem))
		}
		s.Sample = sample
	case reflect.Map:
		keys := v.MapKeys()
		s.KeyCount = len(keys)
		limit := len(keys)
		if limit > maxMappingKeys {
			limit = maxMappingKeys
		}
		sample := make(map[string]interface{}, limit)
		count := 0
		for _, k := range keys {
			if count >= limit {
				break
			}
			val := v.MapIndex(k).Interface()
			if isPrimitive(val) {
				key := toKeyString(k.Interface())
				if len(key) > maxStringLen {
					key = key[:maxStringLen] + "..."
				}
				sample[key] = truncatePrimitive(val)
				count++
			}
		}
		s.Sample = sample
	case reflect.Struct:
		s.KeyCount = v.NumField()
	}

	return s
}

func truncatePrimitive(v interface{}) interface{} {
	if str, ok := v.(string); ok && len(str) > maxStringLen {
		return str[:maxStringLen] + "..."
	}
	return v
}

func isPrimitive(v interface{}) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, nil:
		return true
	default:
		return false
	}
}

func toKeyString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}

// hasCycle walks the document via reflection looking for a pointer/map/
// slice that refers back to an ancestor, or for recursion past maxDepth.
// Depth exhaustion is treated the same as a cycle: both make straight
// serialization unsafe.
func hasCycle(doc interface{}, depthBudget int) bool {
	seen := make(map[uintptr]bool)
	return walk(reflect.ValueOf(doc), seen, depthBudget)
}

func walk(v reflect.Value, seen map[uintptr]bool, depthBudget int) bool {
	if depthBudget <= 0 {
		return true
	}
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return false
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return walk(v.Elem(), seen, depthBudget)
	}

	switch v.Kind() {
	case reflect.Ptr:
		return walk(v.Elem(), seen, depthBudget-1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if walk(v.Index(i), seen, depthBudget-1) {
				return true
			}
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			if walk(v.MapIndex(k), seen, depthBudget-1) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanInterface() {
				continue
			}
			if walk(v.Field(i), seen, depthBudget-1) {
				return true
			}
		}
	}

	return false
}
