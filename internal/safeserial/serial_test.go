package safeserial

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSerializePlainDocumentPassesThrough(t *testing.T) {
	doc := map[string]interface{}{"status": "ok", "count": 3}
	result := Serialize(doc, DefaultBudget)
	m, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected plain document to pass through unchanged, got %T", result)
	}
	if m["status"] != "ok" {
		t.Fatalf("unexpected contents: %+v", m)
	}
}

func TestSerializeOversizedFallsBackToSimplified(t *testing.T) {
	big := strings.Repeat("x", DefaultBudget*2)
	doc := map[string]interface{}{"blob": big}
	result := Serialize(doc, DefaultBudget)
	s, ok := result.(Simplified)
	if !ok {
		t.Fatalf("expected Simplified fallback, got %T", result)
	}
	if !s.Simplified {
		t.Fatal("expected Simplified flag set")
	}
}

type selfRef struct {
	Name string
	Self *selfRef
}

func TestSerializeCycleFallsBackToSimplified(t *testing.T) {
	doc := &selfRef{Name: "a"}
	doc.Self = doc

	result := Serialize(doc, DefaultBudget)
	s, ok := result.(Simplified)
	if !ok {
		t.Fatalf("expected Simplified fallback for cyclic document, got %T", result)
	}
	if s.SimplificationReason == "" {
		t.Fatal("expected a simplification reason")
	}
}

type deepNode struct {
	Next *deepNode
}

func TestSerializeExcessiveDepthFallsBackToSimplified(t *testing.T) {
	var head *deepNode
	for i := 0; i < maxDepth*2; i++ {
		head = &deepNode{Next: head}
	}

	result := Serialize(head, DefaultBudget)
	if _, ok := result.(Simplified); !ok {
		t.Fatalf("expected Simplified fallback for excessively deep document, got %T", result)
	}
}

func TestSerializeIsIdempotentOnSimplifiedOutput(t *testing.T) {
	doc := &selfRef{Name: "a"}
	doc.Self = doc

	first := Serialize(doc, DefaultBudget)
	simplified, ok := first.(Simplified)
	if !ok {
		t.Fatalf("expected Simplified on first pass, got %T", first)
	}

	second := Serialize(simplified, DefaultBudget)
	reSimplified, ok := second.(Simplified)
	if !ok {
		// Passing through unchanged is also an acceptable fixed point, since
		// a Simplified value has no cycles and is small.
		if m, ok := second.(map[string]interface{}); ok {
			t.Fatalf("unexpected shape on second pass: %+v", m)
		}
		t.Fatalf("expected a stable shape on second pass, got %T", second)
	}
	if reSimplified.OriginalType != simplified.OriginalType {
		t.Fatalf("expected second pass to be a fixed point with original type %q, got %q", simplified.OriginalType, reSimplified.OriginalType)
	}
}

func TestSerializeNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Serialize must never panic, recovered: %v", r)
		}
	}()

	inputs := []interface{}{
		nil,
		make(chan int),
		func() {},
		complex(1, 2),
	}
	for _, in := range inputs {
		Serialize(in, DefaultBudget)
	}
}

func TestSerializeNoisyProducesMinimalDigest(t *testing.T) {
	digest := SerializeNoisy("closed", true, 123, "closed", false)
	data, err := json.Marshal(digest)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if len(data) > 256 {
		t.Fatalf("expected a minimal digest, got %d bytes", len(data))
	}
	if digest.CircuitBreakerOpen {
		t.Fatal("expected breaker closed in digest")
	}
}

func TestSerializeZeroBudgetUsesDefault(t *testing.T) {
	doc := map[string]interface{}{"a": 1}
	result := Serialize(doc, 0)
	if _, ok := result.(map[string]interface{}); !ok {
		t.Fatalf("expected small document to pass through with default budget, got %T", result)
	}
}
