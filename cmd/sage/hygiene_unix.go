//go:build unix

package main

import "golang.org/x/sys/unix"

// checkStateDirPermissions warns if the state directory is group- or
// world-writable (Q4). Advisory only: Sage never refuses to run over this,
// per spec's fail-open discipline — a loose state directory only means
// another local user could tamper with the allowlist/cache, not that Sage
// itself has failed.
func checkStateDirPermissions(dir string) {
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return
	}
	if st.Mode&(unix.S_IWGRP|unix.S_IWOTH) != 0 {
		log.Warn("state directory %s is group- or world-writable; consider chmod 700", dir)
	}
}
