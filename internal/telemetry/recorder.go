package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"github.com/dativo-io/steward/internal/classifier"
	stewardotel "github.com/dativo-io/steward/internal/otel"
)

// Sink persists audit rows.
type Sink interface {
	Write(ctx context.Context, row *Row) error
}

// Recorder fills in row identity and fans each row out to its sinks.
type Recorder struct {
	sinks   []Sink
	scanner *classifier.Scanner
	now     func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithScanner masks PII in error messages before they are stored.
func WithScanner(s *classifier.Scanner) RecorderOption {
	return func(r *Recorder) { r.scanner = s }
}

// WithSinks adds sinks after the primary one.
func WithSinks(sinks ...Sink) RecorderOption {
	return func(r *Recorder) { r.sinks = append(r.sinks, sinks...) }
}

// NewRecorder creates a recorder writing to primary and any extra sinks.
func NewRecorder(primary Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{now: time.Now}
	if primary != nil {
		r.sinks = append(r.sinks, primary)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record writes row to every sink. Each sink is attempted even when an
// earlier one fails; failures are logged and returned joined so the caller
// can count them. Callers must not fail a run on this error.
func (r *Recorder) Record(ctx context.Context, row *Row) error {
	ctx, span := tracer.Start(ctx, "telemetry.record")
	defer span.End()

	if row.ID == "" {
		row.ID = "run_" + uuid.New().String()
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = r.now()
	}
	if r.scanner != nil && row.Error != "" {
		row.Error = r.scanner.Redact(ctx, row.Error)
	}
	span.SetAttributes(
		stewardotel.CorrelationID.String(row.CorrelationID),
		stewardotel.SafetyStatus.String(string(row.SafetyStatus)),
	)

	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, row); err != nil {
			log.Error().Err(err).
				Str("correlation_id", row.CorrelationID).
				Str("tenant_id", row.TenantID).
				Str("agent_type", row.AgentType).
				Str("sink", fmt.Sprintf("%T", s)).
				Msg("telemetry_write_failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "telemetry write failed")
		return err
	}
	return nil
}
