package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sage-sh/sage/internal/approval"
)

// runApprove implements `sage approve <actionId>` (§4.11): manually
// consumes a pending approval for hosts that surface an actionId but can't
// call back into the approval store themselves. Pending records live per
// session, so the session id must be known; it is read from --session or
// SAGE_SESSION_ID, since the actionId alone doesn't carry it (§6's
// hook-call contract keys pending entries as {sid}:{actionId} across two
// files, not one global namespace).
func runApprove(args []string, stateDir string) {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	session := fs.String("session", os.Getenv("SAGE_SESSION_ID"), "Session id the approval belongs to")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		fatalf("usage: sage approve <actionId> [--session id]")
	}
	if *session == "" {
		fatalf("missing session id: pass --session or set SAGE_SESSION_ID")
	}

	store := approval.Open(stateDir, *session)
	record, ok := store.ConsumePending(rest[0])
	if !ok {
		fatalf("no pending approval %q for session %q (expired or unknown)", rest[0], *session)
	}

	fmt.Printf("Approved: %s\n", record.ThreatTitle)
	for _, a := range record.Artifacts {
		fmt.Printf("  %s: %s\n", a.Type, a.Value)
	}
}
