package logging

import (
	"context"
	"log/slog"

	"riskaudit/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCountyID is the standardized structured logging key for county identifiers.
	FieldCountyID = "county_id"
	// FieldContest is the standardized structured logging key for contest names.
	FieldContest = "contest"
	// FieldRound is the standardized structured logging key for round numbers.
	FieldRound = "round"
	// FieldImportID is the standardized structured logging key for import run identifiers.
	FieldImportID = "import_id"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. round_signed_off).
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldErrorKind classifies an error attribute (invariant, validation, ...).
	FieldErrorKind = "error_kind"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDecisionType names the policy decision being logged.
	FieldDecisionType = "decision_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.CountyIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldCountyID, id))
	}
	if contest, ok := services.ContestFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldContest, contest))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
