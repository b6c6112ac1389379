package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldRequestID = "request_id"
	FieldSigner    = "signer"
	FieldComponent = "component"
	FieldOperation = "operation"

	// Content identity
	FieldDigest     = "digest"
	FieldContentKey = "content_key"
	FieldRegKey     = "reg_key"
	FieldLocator    = "locator"
	FieldNonceSrc   = "nonce_source"

	// Ledger
	FieldRound        = "round"
	FieldTxID         = "txid"
	FieldLedgerStatus = "ledger_status"
	FieldBox          = "box"

	// Similarity and scoring
	FieldSimilarity = "similarity"
	FieldThreshold  = "threshold"
	FieldScore      = "score"
	FieldCapability = "capability"

	// Timing and counts
	FieldDurationMS = "duration_ms"
	FieldAttempt    = "attempt"
	FieldCount      = "count"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Network
	FieldURL    = "url"
	FieldStatus = "status"
)

type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	signerKey    contextKey = "logger_signer"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithSigner adds the submitting signer to the context for logging
func WithSigner(ctx context.Context, signer string) context.Context {
	return context.WithValue(ctx, signerKey, signer)
}

// FieldsFromContext extracts logging fields from context as key-value pairs.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if signer, ok := ctx.Value(signerKey).(string); ok && signer != "" {
		fields = append(fields, FieldSigner, signer)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
