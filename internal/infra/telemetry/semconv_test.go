package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func hasAttr(attrs []attribute.KeyValue, key attribute.Key, want string) bool {
	for _, kv := range attrs {
		if kv.Key == key && kv.Value.AsString() == want {
			return true
		}
	}
	return false
}

func TestOperationAttributes(t *testing.T) {
	attrs := OperationAttributes("postgres", OpAddLine, "success", SessionKindGuest)
	if !hasAttr(attrs, AttrGateway, "postgres") {
		t.Fatalf("missing gateway attribute: %v", attrs)
	}
	if !hasAttr(attrs, AttrOperation, "add_line") {
		t.Fatalf("missing operation attribute: %v", attrs)
	}
	if !hasAttr(attrs, AttrResult, "success") {
		t.Fatalf("missing result attribute: %v", attrs)
	}
	if !hasAttr(attrs, AttrSessionKind, "guest") {
		t.Fatalf("missing session kind attribute: %v", attrs)
	}
}

func TestResyncAttributes(t *testing.T) {
	attrs := ResyncAttributes(TriggerNotification, "success")
	if !hasAttr(attrs, AttrTrigger, "notification") {
		t.Fatalf("missing trigger attribute: %v", attrs)
	}
	if !hasAttr(attrs, AttrOperation, OpResync) {
		t.Fatalf("missing operation attribute: %v", attrs)
	}
}

func TestErrorAttributesOmitsEmptyReason(t *testing.T) {
	attrs := ErrorAttributes("gateway_unavailable", "")
	for _, kv := range attrs {
		if kv.Key == AttrReason {
			t.Fatalf("reason attribute present despite empty value")
		}
	}
}
