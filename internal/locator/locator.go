// Package locator resolves drawn ballot positions to stored records.
//
// A position with an uploaded CVR resolves to it; a position with no CVR
// resolves to a phantom placeholder that is created once per county and
// natural key and reused afterwards.
package locator

import (
	"context"
	"fmt"
	"log/slog"

	"riskaudit/internal/ballot"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
)

// chunkSize bounds how many distinct positions are looked up per query.
const chunkSize = 1000

// Records is the storage the locator reads and writes.
type Records interface {
	RecordsByKeys(ctx context.Context, keys []ballot.Key) (map[ballot.Key]ballot.Record, error)
	EnsurePhantom(ctx context.Context, key ballot.Key) (ballot.Record, error)
}

// Locator resolves natural keys to ballot records.
type Locator struct {
	records Records
	logger  *slog.Logger
}

// New constructs a locator over records.
func New(records Records, logger *slog.Logger) *Locator {
	return &Locator{records: records, logger: logging.NewComponentLogger(logger, "locator")}
}

// ResolveTributes returns one record per tribute, in tribute order. Duplicate
// tributes resolve to the same record; a position with no record gets a
// phantom. Every returned record must sit at its tribute's position, otherwise
// the call fails with services.ErrIntegrity.
func (l *Locator) ResolveTributes(ctx context.Context, tributes []ballot.Tribute) ([]ballot.Record, error) {
	keys := make([]ballot.Key, 0, len(tributes))
	seen := make(map[ballot.Key]struct{}, len(tributes))
	for _, t := range tributes {
		if _, ok := seen[t.Key]; ok {
			continue
		}
		seen[t.Key] = struct{}{}
		keys = append(keys, t.Key)
	}

	resolved := make(map[ballot.Key]ballot.Record, len(keys))
	for start := 0; start < len(keys); start += chunkSize {
		chunk := keys[start:min(start+chunkSize, len(keys))]
		found, err := l.records.RecordsByKeys(ctx, chunk)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "locator", "resolve tributes", fmt.Sprintf("%d positions", len(chunk)), err)
		}
		for _, key := range chunk {
			if rec, ok := found[key]; ok {
				resolved[key] = rec
				continue
			}
			rec, err := l.phantom(ctx, key)
			if err != nil {
				return nil, err
			}
			resolved[key] = rec
		}
	}

	out := make([]ballot.Record, 0, len(tributes))
	mismatched := 0
	for _, t := range tributes {
		rec, ok := resolved[t.Key]
		if !ok {
			continue
		}
		if rec.Key != t.Key {
			mismatched++
			continue
		}
		out = append(out, rec)
	}
	if len(out) != len(tributes) {
		err := services.Wrap(
			services.ErrIntegrity,
			"locator",
			"resolve tributes",
			fmt.Sprintf("resolved %d records for %d tributes (%d at the wrong position)", len(out), len(tributes), mismatched),
			nil,
		)
		logging.ErrorWithContext(
			logging.WithContext(ctx, l.logger),
			"tribute resolution mismatch",
			"tribute_resolution_mismatch",
			logging.Int("tributes", len(tributes)),
			logging.Int("resolved", len(out)),
			logging.Int("mismatched", mismatched),
			logging.Int("distinct_positions", len(keys)),
			logging.String(logging.FieldErrorHint, "inspect the county's CVR export and manifest"),
			logging.Error(err),
		)
		return nil, err
	}
	return out, nil
}

func (l *Locator) phantom(ctx context.Context, key ballot.Key) (ballot.Record, error) {
	rec, err := l.records.EnsurePhantom(ctx, key)
	if err != nil {
		return ballot.Record{}, services.Wrap(services.ErrTransient, "locator", "create phantom", key.String(), err)
	}
	logging.WithContext(ctx, l.logger).Info(
		"phantom record in use",
		logging.String(logging.FieldEventType, "phantom_record"),
		logging.String("imprinted_id", rec.ImprintedID),
		logging.Int64("record_id", rec.ID),
	)
	return rec, nil
}
