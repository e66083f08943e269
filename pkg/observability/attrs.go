package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for signing-service spans and metrics.
// Tenant, document, and signer ids are opaque UUIDs; tokens, emails, and
// file contents never become attribute values.
var (
	AttrTenantID   = attribute.Key("quill.tenant.id")
	AttrDocumentID = attribute.Key("quill.document.id")
	AttrSignerID   = attribute.Key("quill.signer.id")
	AttrAction     = attribute.Key("quill.audit.action")

	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
)

// DocumentOperation creates attributes for document lifecycle operations.
func DocumentOperation(tenantID, documentID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrDocumentID.String(documentID),
	}
}

// SignerOperation creates attributes for signer workflow operations.
func SignerOperation(documentID, signerID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDocumentID.String(documentID),
		AttrSignerID.String(signerID),
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

// SetSpanStatus records err on the current span when non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
