package main

import (
	"os"

	"github.com/sage-sh/sage/internal/approval"
	"github.com/sage-sh/sage/internal/fileutil"
)

// ensureStateDir implements C18: create the state directory if missing,
// prune crash-leftover *.tmp files (§4.14), prune stale approval files
// (§4.11), and warn (never refuse) about loose permissions on unix.
func ensureStateDir(dir string) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warn("create state dir %s: %v", dir, err)
		return
	}
	fileutil.PruneStaleTemp(dir)
	approval.PruneStale(dir)
	checkStateDirPermissions(dir)
}
