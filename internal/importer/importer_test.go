package importer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"riskaudit/internal/coordinator"
	"riskaudit/internal/importer"
	"riskaudit/internal/logging"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
	"riskaudit/internal/testsupport"
)

const header = `{"contests":[{"name":"Mayor","choices":["Alice","Bob"],"votes_allowed":1}]}`

func cvrExport(t *testing.T, rows int, duplicateAt int) *importer.CVRReader {
	t.Helper()
	lines := []string{header}
	for i := 1; i <= rows; i++ {
		position := i
		if i == duplicateAt {
			position = 1
		}
		choice := "Alice"
		if i%3 == 0 {
			choice = "Bob"
		}
		lines = append(lines, fmt.Sprintf(`{"scanner_id":1,"batch_id":"A","record_id":%d,"cvr_number":%d,"ballot_type":"B1","votes":{"Mayor":[%q]}}`, position, i, choice))
	}
	reader, err := importer.NewCVRReader(strings.NewReader(strings.Join(lines, "\n")))
	if err != nil {
		t.Fatalf("NewCVRReader: %v", err)
	}
	return reader
}

func manifestExport(rows ...string) *importer.ManifestReader {
	return importer.NewManifestReader(strings.NewReader(strings.Join(rows, "\n")))
}

func wait(t *testing.T, task *importer.Task) importer.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return result
}

func setup(t *testing.T) (*store.Store, *importer.Importer, store.County) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	county, err := st.CreateCounty(context.Background(), "Adams", 1)
	if err != nil {
		t.Fatalf("CreateCounty: %v", err)
	}
	return st, importer.New(st, cfg.Import.BatchSize, logging.NewNop()), county
}

func upload(t *testing.T, st *store.Store, countyID int64, kind store.FileKind) store.UploadedFile {
	t.Helper()
	file, err := st.CreateUploadedFile(context.Background(), countyID, kind, string(kind)+".jsonl", "abcd")
	if err != nil {
		t.Fatalf("CreateUploadedFile: %v", err)
	}
	return file
}

func TestImportCVRsAndManifestReadiesCounty(t *testing.T) {
	ctx := context.Background()
	st, imp, county := setup(t)

	file := upload(t, st, county.ID, store.FileCVR)
	task, err := imp.Begin(ctx, file.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	claimed, _ := st.County(ctx, county.ID)
	if claimed.State != coordinator.CountyImporting || claimed.ImportStatus != store.ImportInProgress {
		t.Fatalf("county not claimed synchronously: %+v", claimed)
	}
	if f, _ := st.UploadedFile(ctx, file.ID); f.Status != store.FileImporting || f.ImportID != task.ImportID {
		t.Fatalf("file not claimed: %+v", f)
	}

	imp.RunCVRs(ctx, task, cvrExport(t, 20, 0))
	if result := wait(t, task); result.Err != nil || result.Rows != 20 {
		t.Fatalf("unexpected result: %+v", result)
	}

	after, _ := st.County(ctx, county.ID)
	if after.State != coordinator.CountyNotStarted {
		t.Fatalf("county without manifest should be NOT_STARTED, got %s", after.State)
	}
	if after.CVRsImported != 20 || after.ImportStatus != store.ImportSuccessful {
		t.Fatalf("unexpected dashboard: %+v", after)
	}
	if n, _ := st.CountUploaded(ctx, county.ID); n != 20 {
		t.Fatalf("CountUploaded = %d", n)
	}

	manifest := upload(t, st, county.ID, store.FileManifest)
	task, err = imp.Begin(ctx, manifest.ID)
	if err != nil {
		t.Fatalf("Begin manifest: %v", err)
	}
	imp.RunManifest(ctx, task, manifestExport(
		`{"scanner_id":1,"batch_id":"A","count":15,"location":"Bin 1"}`,
		``,
		`{"scanner_id":1,"batch_id":"B","count":5,"location":"Bin 2"}`,
	))
	if result := wait(t, task); result.Err != nil || result.Rows != 2 || result.Ballots != 20 {
		t.Fatalf("unexpected manifest result: %+v", result)
	}

	after, _ = st.County(ctx, county.ID)
	if after.State != coordinator.CountyImported || after.BallotsInManifest != 20 {
		t.Fatalf("county should be IMPORTED with 20 ballots: %+v", after)
	}
	batches, err := st.ManifestBatches(ctx, county.ID)
	if err != nil || len(batches) != 2 {
		t.Fatalf("ManifestBatches = %v, %v", batches, err)
	}
	if batches[1].SequenceStart != 16 || batches[1].SequenceEnd != 20 {
		t.Fatalf("second batch range %d..%d", batches[1].SequenceStart, batches[1].SequenceEnd)
	}
	if _, running := imp.Running(county.ID); running {
		t.Fatal("finished task still registered")
	}
}

func TestFailedImportRemovesCommittedBatches(t *testing.T) {
	ctx := context.Background()
	st, imp, county := setup(t)

	file := upload(t, st, county.ID, store.FileCVR)
	task, err := imp.Begin(ctx, file.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	// Batches of 7: rows 1..14 commit before the duplicate in the third batch.
	imp.RunCVRs(ctx, task, cvrExport(t, 20, 17))
	result := wait(t, task)
	if result.Err == nil {
		t.Fatal("expected duplicate position to fail the import")
	}

	if n, _ := st.CountUploaded(ctx, county.ID); n != 0 {
		t.Fatalf("failed import left %d rows", n)
	}
	after, _ := st.County(ctx, county.ID)
	if after.State != coordinator.CountyNotStarted || after.ImportStatus != store.ImportFailed || after.CVRsImported != 0 {
		t.Fatalf("unexpected county after failure: %+v", after)
	}
	if after.ImportError == "" {
		t.Fatal("expected import error message")
	}
	f, _ := st.UploadedFile(ctx, file.ID)
	if f.Status != store.FileFailed || f.Result == "" {
		t.Fatalf("unexpected file after failure: %+v", f)
	}
}

func TestReimportReplacesPreviousRows(t *testing.T) {
	ctx := context.Background()
	st, imp, county := setup(t)

	first := upload(t, st, county.ID, store.FileCVR)
	task, err := imp.Begin(ctx, first.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	imp.RunCVRs(ctx, task, cvrExport(t, 10, 0))
	wait(t, task)

	second := upload(t, st, county.ID, store.FileCVR)
	task, err = imp.Begin(ctx, second.ID)
	if err != nil {
		t.Fatalf("Begin second: %v", err)
	}
	imp.RunCVRs(ctx, task, cvrExport(t, 4, 0))
	if result := wait(t, task); result.Err != nil {
		t.Fatalf("second import failed: %v", result.Err)
	}

	if n, _ := st.CountUploaded(ctx, county.ID); n != 4 {
		t.Fatalf("CountUploaded = %d, want 4", n)
	}
	old, _ := st.UploadedFile(ctx, first.ID)
	if old.Status != store.FileFailed || old.Result != "superseded" {
		t.Fatalf("first file should be superseded: %+v", old)
	}
}

func TestBeginRejectsFileAlreadyImported(t *testing.T) {
	ctx := context.Background()
	st, imp, county := setup(t)

	file := upload(t, st, county.ID, store.FileCVR)
	task, err := imp.Begin(ctx, file.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	imp.RunCVRs(ctx, task, cvrExport(t, 3, 0))
	wait(t, task)

	if _, err := imp.Begin(ctx, file.ID); !errors.Is(err, services.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestUndeclaredChoiceFailsImport(t *testing.T) {
	ctx := context.Background()
	st, imp, county := setup(t)

	file := upload(t, st, county.ID, store.FileCVR)
	task, err := imp.Begin(ctx, file.ID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	src, err := importer.NewCVRReader(strings.NewReader(header + "\n" +
		`{"scanner_id":1,"batch_id":"A","record_id":1,"votes":{"Mayor":["Mallory"]}}`))
	if err != nil {
		t.Fatalf("NewCVRReader: %v", err)
	}
	imp.RunCVRs(ctx, task, src)
	if result := wait(t, task); !errors.Is(result.Err, services.ErrIntegrity) {
		t.Fatalf("expected integrity fault, got %v", result.Err)
	}
}
