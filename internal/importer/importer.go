package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskaudit/internal/coordinator"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

// StatusUpdater is the narrow update path for file and county status. Each
// method is its own short statement, committed independently of any batch.
type StatusUpdater interface {
	SetFileStatus(ctx context.Context, id int64, status store.FileStatus, result string) error
	SetImportStatus(ctx context.Context, id int64, status store.ImportStatus, message string) error
	SetCVRsImported(ctx context.Context, id int64, count int) error
	SetBallotsInManifest(ctx context.Context, id int64, count int) error
	SetCountyState(ctx context.Context, id int64, state coordinator.CountyState) error
	CountyReady(ctx context.Context, countyID int64) (bool, error)
}

// Result summarizes a finished import.
type Result struct {
	Rows     int
	Ballots  int
	Duration time.Duration
	Err      error
}

// Task is one running import.
type Task struct {
	ImportID string
	FileID   int64
	CountyID int64
	Kind     store.FileKind

	done   chan struct{}
	result Result
}

// Done is closed when the import finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the import finishes or ctx is cancelled. A failed import
// is reported through Result.Err, not the returned error.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Importer owns import tasks, at most one per county.
type Importer struct {
	store     *store.Store
	status    StatusUpdater
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running map[int64]*Task
}

// New constructs an importer. Status changes go through st's narrow update
// methods, never through a batch transaction.
func New(st *store.Store, batchSize int, logger *slog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Importer{
		store:     st,
		status:    st,
		batchSize: batchSize,
		logger:    logging.NewComponentLogger(logger, "importer"),
		running:   make(map[int64]*Task),
	}
}

// Running returns the county's running task, if any.
func (i *Importer) Running(countyID int64) (*Task, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	task, ok := i.running[countyID]
	return task, ok
}

// Begin claims the uploaded file for import. On return the file is IMPORTING,
// the county's import status is IN_PROGRESS and the county is IMPORTING.
// Imports are refused while audit data exists.
func (i *Importer) Begin(ctx context.Context, fileID int64) (*Task, error) {
	task := &Task{ImportID: uuid.NewString(), FileID: fileID, done: make(chan struct{})}
	err := i.store.WithTx(ctx, func(tx *store.Tx) error {
		file, err := tx.UploadedFile(ctx, fileID)
		if err != nil {
			return err
		}
		if file.Status != store.FileHashVerified {
			return services.Wrap(services.ErrInvariant, "importer", "begin", fmt.Sprintf("file %d is %s", file.ID, file.Status), nil)
		}
		audited, err := tx.HasAuditData(ctx)
		if err != nil {
			return err
		}
		if audited {
			return services.Wrap(services.ErrInvariant, "importer", "begin", "audit data exists; reset the audit before importing", nil)
		}
		county, err := tx.County(ctx, file.CountyID)
		if err != nil {
			return err
		}
		next, _, err := coordinator.TransitionCounty(county.State, coordinator.CountyEvent{Kind: coordinator.ImportStarted})
		if err != nil {
			return err
		}
		task.CountyID = county.ID
		task.Kind = file.Kind
		if err := tx.SetCountyState(ctx, county.ID, next); err != nil {
			return err
		}
		if err := tx.SetImportStatus(ctx, county.ID, store.ImportInProgress, ""); err != nil {
			return err
		}
		if err := tx.SetFileStatus(ctx, file.ID, store.FileImporting, ""); err != nil {
			return err
		}
		if err := tx.SetFileImportID(ctx, file.ID, task.ImportID); err != nil {
			return err
		}
		return tx.SupersedeFiles(ctx, county.ID, file.Kind, file.ID)
	})
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.running[task.CountyID] = task
	i.mu.Unlock()

	i.logger.Info("import started",
		logging.Int64(logging.FieldCountyID, task.CountyID),
		logging.String(logging.FieldImportID, task.ImportID),
		logging.Int64("file_id", task.FileID),
		logging.String("kind", string(task.Kind)),
	)
	return task, nil
}

// RunCVRs loads src in the background for a task claimed by Begin.
func (i *Importer) RunCVRs(ctx context.Context, task *Task, src Source) {
	go i.run(context.WithoutCancel(ctx), task, func(ctx context.Context) (int, int, error) {
		n, err := i.loadCVRs(ctx, task, src)
		return n, n, err
	})
}

// RunManifest loads src in the background for a task claimed by Begin.
func (i *Importer) RunManifest(ctx context.Context, task *Task, src ManifestSource) {
	go i.run(context.WithoutCancel(ctx), task, func(ctx context.Context) (int, int, error) {
		return i.loadManifest(ctx, task, src)
	})
}

func (i *Importer) run(ctx context.Context, task *Task, load func(context.Context) (int, int, error)) {
	started := time.Now()
	logger := i.logger.With(
		logging.Int64(logging.FieldCountyID, task.CountyID),
		logging.String(logging.FieldImportID, task.ImportID),
	)

	defer func() {
		if r := recover(); r != nil {
			task.result = Result{Err: fmt.Errorf("import panic: %v", r)}
			i.fail(ctx, logger, task, task.result.Err)
		}
		i.mu.Lock()
		delete(i.running, task.CountyID)
		i.mu.Unlock()
		close(task.done)
	}()

	rows, ballots, err := load(ctx)
	task.result = Result{Rows: rows, Ballots: ballots, Duration: time.Since(started), Err: err}
	if err != nil {
		i.fail(ctx, logger, task, err)
		return
	}
	i.succeed(ctx, logger, task)
}

func (i *Importer) succeed(ctx context.Context, logger *slog.Logger, task *Task) {
	var steps []func() error
	message := ""
	switch task.Kind {
	case store.FileCVR:
		message = fmt.Sprintf("%d CVRs imported", task.result.Rows)
		steps = append(steps, func() error { return i.status.SetCVRsImported(ctx, task.CountyID, task.result.Rows) })
	case store.FileManifest:
		message = fmt.Sprintf("%d batches, %d ballots imported", task.result.Rows, task.result.Ballots)
		steps = append(steps, func() error { return i.status.SetBallotsInManifest(ctx, task.CountyID, task.result.Ballots) })
	}
	steps = append(steps,
		func() error { return i.status.SetFileStatus(ctx, task.FileID, store.FileImported, message) },
		func() error { return i.status.SetImportStatus(ctx, task.CountyID, store.ImportSuccessful, "") },
	)
	if err := runSteps(steps); err != nil {
		task.result.Err = err
		i.fail(ctx, logger, task, err)
		return
	}
	i.settleCounty(ctx, logger, task, coordinator.ImportSucceeded)
	logger.Info("import finished",
		logging.String(logging.FieldEventType, "import_succeeded"),
		logging.Int("rows", task.result.Rows),
		logging.Int("ballots", task.result.Ballots),
		logging.Duration("duration", task.result.Duration),
	)
}

// fail removes the rows this run wrote, then records the failure.
func (i *Importer) fail(ctx context.Context, logger *slog.Logger, task *Task, cause error) {
	var cleanup error
	switch task.Kind {
	case store.FileCVR:
		_, cleanup = i.store.DeleteUploadedRecords(ctx, task.CountyID, task.ImportID)
	case store.FileManifest:
		_, cleanup = i.store.DeleteManifest(ctx, task.CountyID, task.ImportID)
	}
	if cleanup != nil {
		logging.ErrorWithContext(logger, "import cleanup failed", "import_cleanup_failed",
			logging.Error(cleanup),
			logging.String(logging.FieldErrorHint, "reset the county's uploads and import again"),
		)
	}

	steps := []func() error{
		func() error { return i.status.SetFileStatus(ctx, task.FileID, store.FileFailed, cause.Error()) },
		func() error { return i.status.SetImportStatus(ctx, task.CountyID, store.ImportFailed, cause.Error()) },
	}
	switch task.Kind {
	case store.FileCVR:
		steps = append(steps, func() error { return i.status.SetCVRsImported(ctx, task.CountyID, 0) })
	case store.FileManifest:
		steps = append(steps, func() error { return i.status.SetBallotsInManifest(ctx, task.CountyID, 0) })
	}
	if err := runSteps(steps); err != nil {
		logging.ErrorWithContext(logger, "record import failure", "import_status_failed", logging.Error(err))
	}
	i.settleCounty(ctx, logger, task, coordinator.ImportFailed)
	logging.ErrorWithContext(logger, "import failed", "import_failed",
		logging.Error(cause),
		logging.String("kind", string(task.Kind)),
		logging.String(logging.FieldErrorHint, "fix the file and upload it again"),
	)
}

// settleCounty moves the county out of IMPORTING. The task owns the county
// while it is IMPORTING, so the prior state is known.
func (i *Importer) settleCounty(ctx context.Context, logger *slog.Logger, task *Task, kind coordinator.CountyEventKind) {
	ready, err := i.status.CountyReady(ctx, task.CountyID)
	if err != nil {
		logging.ErrorWithContext(logger, "check county readiness", "import_status_failed", logging.Error(err))
	}
	next, _, err := coordinator.TransitionCounty(coordinator.CountyImporting, coordinator.CountyEvent{Kind: kind, Ready: ready})
	if err != nil {
		logging.ErrorWithContext(logger, "county transition", "import_status_failed", logging.Error(err))
		return
	}
	if err := i.status.SetCountyState(ctx, task.CountyID, next); err != nil {
		logging.ErrorWithContext(logger, "set county state", "import_status_failed", logging.Error(err))
	}
}

func runSteps(steps []func() error) error {
	var errs []error
	for _, step := range steps {
		if err := step(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
