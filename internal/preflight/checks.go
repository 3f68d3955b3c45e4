package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"riskaudit/internal/store"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLockDirectory verifies that advisory file locks can be taken in dir.
// County locks rely on them to exclude concurrent processes.
func CheckLockDirectory(dir string) Result {
	const name = "County locks"

	lock := flock.New(filepath.Join(dir, ".preflight.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("lock failed (%v)", err)}
	}
	if !locked {
		return Result{Name: name, Detail: "probe lock held by another process"}
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()
	return Result{Name: name, Passed: true, Detail: "flock available"}
}

// CheckDatabase verifies the schema version and integrity of the audit
// database.
func CheckDatabase(ctx context.Context, st *store.Store) Result {
	const name = "Database"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := st.CheckHealth(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed)", health.DBPath)}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("schema v%d, %s counties, %s records", health.SchemaVersion,
			humanize.Comma(int64(health.Counties)), humanize.Comma(int64(health.Records))),
	}
}
