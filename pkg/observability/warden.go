// Package observability provides warden-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Warden semantic convention attributes.
var (
	// Extension attributes
	AttrExtensionID      = attribute.Key("warden.extension.id")
	AttrExtensionVersion = attribute.Key("warden.extension.version")
	AttrTrustLevel       = attribute.Key("warden.extension.trust_level")
	AttrBundleHash       = attribute.Key("warden.bundle.hash")
	AttrTenantID         = attribute.Key("warden.tenant.id")

	// Verification attributes
	AttrVerifyGate = attribute.Key("warden.verify.gate")

	// Policy decision attributes
	AttrDecisionAction = attribute.Key("warden.decision.action")
	AttrDecisionCode   = attribute.Key("warden.decision.reason_code")
	AttrDecisionHash   = attribute.Key("warden.decision.hash")

	// Runtime check attributes
	AttrPermission  = attribute.Key("warden.check.permission")
	AttrEnvironment = attribute.Key("warden.check.environment")
	AttrTargetPath  = attribute.Key("warden.check.target_path")
	AttrPermitted   = attribute.Key("warden.check.permitted")

	// Approval attributes
	AttrIntentID = attribute.Key("warden.approval.intent_id")
	AttrReviewer = attribute.Key("warden.approval.reviewer")
)

// BundleAttrs creates attributes identifying a bundle under verification.
func BundleAttrs(extensionID, version, trustLevel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrExtensionID.String(extensionID),
		AttrExtensionVersion.String(version),
		AttrTrustLevel.String(trustLevel),
	}
}

// DecisionAttrs creates attributes for an installation decision.
func DecisionAttrs(extensionID, action, code string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrExtensionID.String(extensionID),
		AttrDecisionAction.String(action),
		AttrDecisionCode.String(code),
	}
}

// RuntimeCheckAttrs creates attributes for a runtime permission check.
func RuntimeCheckAttrs(extensionID, permission, environment string, permitted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrExtensionID.String(extensionID),
		AttrPermission.String(permission),
		AttrEnvironment.String(environment),
		AttrPermitted.Bool(permitted),
	}
}

// ApprovalAttrs creates attributes for an approval workflow step.
func ApprovalAttrs(intentID, extensionID, reviewer string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrIntentID.String(intentID),
		AttrExtensionID.String(extensionID),
		AttrReviewer.String(reviewer),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records the error on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
