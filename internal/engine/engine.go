package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"riskaudit/internal/config"
	"riskaudit/internal/coordinator"
	"riskaudit/internal/importer"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// Engine coordinates audits over a store.
type Engine struct {
	store    *store.Store
	importer *importer.Importer
	locks    *countyLocks
	base     *slog.Logger
	logger   *slog.Logger

	riskLimit     decimal.Decimal
	gamma         float64
	minSignOff    int
	defaultBoards int

	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for round and ACVR timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an engine from configuration.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "config is required", nil)
	}
	if st == nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "store is required", nil)
	}
	locks, err := newCountyLocks(cfg.Paths.LockDir, cfg.LockTimeout())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "lock directory", err)
	}
	e := &Engine{
		store:         st,
		importer:      importer.New(st, cfg.Import.BatchSize, logger),
		locks:         locks,
		base:          logger,
		logger:        logging.NewComponentLogger(logger, "engine"),
		riskLimit:     decimal.NewFromFloat(cfg.Audit.RiskLimit),
		gamma:         cfg.Audit.Gamma,
		minSignOff:    cfg.Audit.MinSignOffMembers,
		defaultBoards: cfg.Audit.DefaultAuditBoards,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, e.logger)
}

// CreateCounty registers a county. A zero board count uses the configured
// default.
func (e *Engine) CreateCounty(ctx context.Context, name string, auditBoards int) (store.County, error) {
	if auditBoards <= 0 {
		auditBoards = e.defaultBoards
	}
	county, err := e.store.CreateCounty(ctx, name, auditBoards)
	if err != nil {
		return store.County{}, err
	}
	e.log(services.WithCountyID(ctx, county.ID)).Info("county created",
		logging.String("name", county.Name),
		logging.Int("audit_boards", county.AuditBoards),
	)
	return county, nil
}

// LookupCounty resolves a county by numeric id or by name.
func (e *Engine) LookupCounty(ctx context.Context, ref string) (store.County, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return e.store.County(ctx, id)
	}
	return e.store.CountyByName(ctx, ref)
}

// SetAuditBoards changes the number of audit boards that must sign off each
// round. It is refused while a round is open.
func (e *Engine) SetAuditBoards(ctx context.Context, countyID int64, boards int) error {
	if boards < 1 {
		return services.Wrap(services.ErrValidation, "engine", "set audit boards", "at least one audit board is required", nil)
	}
	ctx = services.WithCountyID(ctx, countyID)
	release, err := e.locks.acquire(ctx, countyID)
	if err != nil {
		return err
	}
	defer release()

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		county, err := tx.County(ctx, countyID)
		if err != nil {
			return err
		}
		if county.State == coordinator.CountyRoundInProgress {
			return services.Wrap(services.ErrInvariant, "engine", "set audit boards", "a round is in progress", nil)
		}
		return tx.SetAuditBoards(ctx, countyID, boards)
	})
	if err != nil {
		return err
	}
	e.log(ctx).Info("audit boards set", logging.Int("audit_boards", boards))
	return nil
}

// RegisterUpload records a county upload whose digest has been computed.
func (e *Engine) RegisterUpload(ctx context.Context, countyID int64, kind store.FileKind, name, digest string) (store.UploadedFile, error) {
	if _, err := e.store.County(ctx, countyID); err != nil {
		return store.UploadedFile{}, err
	}
	return e.store.CreateUploadedFile(ctx, countyID, kind, name, digest)
}

// ImportCVRs claims the file inside the county's critical section and loads
// src in the background.
func (e *Engine) ImportCVRs(ctx context.Context, fileID int64, src importer.Source) (*importer.Task, error) {
	task, err := e.beginImport(ctx, fileID, store.FileCVR)
	if err != nil {
		return nil, err
	}
	e.importer.RunCVRs(ctx, task, src)
	return task, nil
}

// ImportManifest claims the file inside the county's critical section and
// loads src in the background.
func (e *Engine) ImportManifest(ctx context.Context, fileID int64, src importer.ManifestSource) (*importer.Task, error) {
	task, err := e.beginImport(ctx, fileID, store.FileManifest)
	if err != nil {
		return nil, err
	}
	e.importer.RunManifest(ctx, task, src)
	return task, nil
}

func (e *Engine) beginImport(ctx context.Context, fileID int64, kind store.FileKind) (*importer.Task, error) {
	file, err := e.store.UploadedFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.Kind != kind {
		return nil, services.Wrap(services.ErrValidation, "engine", "import", fmt.Sprintf("file %d is a %s upload", file.ID, file.Kind), nil)
	}
	ctx = services.WithCountyID(ctx, file.CountyID)
	release, err := e.locks.acquire(ctx, file.CountyID)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.importer.Begin(ctx, fileID)
}

// DeleteFile removes an uploaded file and the rows it imported. It is refused
// while an import runs or while audits are defined.
func (e *Engine) DeleteFile(ctx context.Context, fileID int64) error {
	file, err := e.store.UploadedFile(ctx, fileID)
	if err != nil {
		return err
	}
	ctx = services.WithCountyID(ctx, file.CountyID)
	release, err := e.locks.acquire(ctx, file.CountyID)
	if err != nil {
		return err
	}
	defer release()

	var next coordinator.CountyState
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		file, err := tx.UploadedFile(ctx, fileID)
		if err != nil {
			return err
		}
		if file.Status == store.FileImporting {
			return services.Wrap(services.ErrInvariant, "engine", "delete file", "the file is being imported", nil)
		}
		audited, err := tx.HasAuditData(ctx)
		if err != nil {
			return err
		}
		if audited {
			return services.Wrap(services.ErrInvariant, "engine", "delete file", "audit data exists; reset the audit first", nil)
		}
		county, err := tx.County(ctx, file.CountyID)
		if err != nil {
			return err
		}

		if file.Status == store.FileImported {
			switch file.Kind {
			case store.FileCVR:
				if _, err := tx.DeleteUploadedRecords(ctx, county.ID, ""); err != nil {
					return err
				}
				if err := tx.SetCVRsImported(ctx, county.ID, 0); err != nil {
					return err
				}
			case store.FileManifest:
				if _, err := tx.DeleteManifest(ctx, county.ID, ""); err != nil {
					return err
				}
				if err := tx.SetBallotsInManifest(ctx, county.ID, 0); err != nil {
					return err
				}
			}
		}
		if err := tx.DeleteUploadedFile(ctx, file.ID); err != nil {
			return err
		}
		ready, err := tx.CountyReady(ctx, county.ID)
		if err != nil {
			return err
		}
		next, _, err = coordinator.TransitionCounty(county.State, coordinator.CountyEvent{Kind: coordinator.FilesDeleted, Ready: ready})
		if err != nil {
			return err
		}
		return tx.SetCountyState(ctx, county.ID, next)
	})
	if err != nil {
		return err
	}
	e.log(ctx).Info("uploaded file deleted",
		logging.Int64("file_id", file.ID),
		logging.String("kind", string(file.Kind)),
		logging.String("county_state", string(next)),
	)
	return nil
}

// allCountyIDs lists every county, for operations that span the state.
func (e *Engine) allCountyIDs(ctx context.Context) ([]int64, error) {
	counties, err := e.store.Counties(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(counties))
	for _, c := range counties {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// reduce runs the state-level reduction over a snapshot read in tx and
// persists whatever it changed.
func (e *Engine) reduce(ctx context.Context, tx *store.Tx) (coordinator.Reduction, error) {
	state, _, err := tx.StateState(ctx)
	if err != nil {
		return coordinator.Reduction{}, err
	}
	counties, err := tx.CountyStates(ctx)
	if err != nil {
		return coordinator.Reduction{}, err
	}
	audits, err := tx.Audits(ctx)
	if err != nil {
		return coordinator.Reduction{}, err
	}
	reduction := coordinator.ReduceState(coordinator.Snapshot{State: state, Counties: counties, Audits: audits})
	if !reduction.Changed(state) {
		return reduction, nil
	}
	for id, next := range reduction.Counties {
		if err := tx.SetCountyState(ctx, id, next); err != nil {
			return coordinator.Reduction{}, err
		}
	}
	for _, audit := range reduction.Audits {
		if err := tx.SaveAudit(ctx, audit); err != nil {
			return coordinator.Reduction{}, err
		}
	}
	if reduction.State != state {
		if err := tx.SetStateState(ctx, reduction.State); err != nil {
			return coordinator.Reduction{}, err
		}
	}
	return reduction, nil
}
