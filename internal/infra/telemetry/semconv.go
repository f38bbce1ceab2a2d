// Package telemetry provides semantic conventions for Trolley observability.
package telemetry

import (
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for Trolley-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrGateway identifies which persistence gateway implementation served the call (postgres, memory, ws).
	AttrGateway = attribute.Key("gateway")
	// AttrOperation differentiates specific cart operations (add_line, remove_line, resync, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrErrorType categorizes failures by canonical error code.
	AttrErrorType = attribute.Key("error.type")
	// AttrReason provides additional free-form context for errors and dropped rows.
	AttrReason = attribute.Key("reason")
	// AttrTrigger labels resync metrics with what initiated the fetch (mutation, notification, transition, manual).
	AttrTrigger = attribute.Key("trigger")
	// AttrSessionKind distinguishes guest from authenticated sessions without recording the key itself.
	AttrSessionKind = attribute.Key("session.kind")
)

// Operation values used across gateway and engine metrics.
const (
	OpAddLine        = "add_line"
	OpRemoveLine     = "remove_line"
	OpUpdateQuantity = "update_quantity"
	OpUpdateNotes    = "update_notes"
	OpClear          = "clear"
	OpResync         = "resync"
)

// Session kind values for AttrSessionKind.
const (
	SessionKindGuest   = "guest"
	SessionKindAccount = "account"
)

// Resync trigger values.
const (
	TriggerMutation     = "mutation"
	TriggerNotification = "notification"
	TriggerTransition   = "transition"
	TriggerManual       = "manual"
)

var (
	envOnce  sync.Once
	envValue string
)

// Environment returns the deployment environment name for metric labels,
// read once from TROLLEY_ENV.
func Environment() string {
	envOnce.Do(func() {
		envValue = os.Getenv("TROLLEY_ENV")
		if envValue == "" {
			envValue = "development"
		}
	})
	return envValue
}

// OperationAttributes returns the common attribute set for gateway call
// metrics. The session kind labels guest versus authenticated traffic without
// recording the key itself.
func OperationAttributes(gateway, operation, result, sessionKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrGateway.String(gateway),
		AttrOperation.String(operation),
		AttrResult.String(result),
		AttrSessionKind.String(sessionKind),
	}
}

// ResyncAttributes returns attributes for resync metrics.
func ResyncAttributes(trigger, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrOperation.String(OpResync),
		AttrTrigger.String(trigger),
		AttrResult.String(result),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(errorType, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrErrorType.String(errorType),
	}
	if reason != "" {
		attrs = append(attrs, AttrReason.String(reason))
	}
	return attrs
}
