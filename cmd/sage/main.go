// Command sage is the process entry point for every Sage operation: the
// per-tool-call hook (C11 via evaluator), and the operator-facing
// subcommands that inspect and mutate Sage's state directory.
package main

import (
	"fmt"
	"os"

	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/logger"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "0.1.0"

var log = logger.New("main")

func main() {
	if Run() {
		return
	}

	runtime := config.LoadRuntimeOptions()
	logger.SetGlobalLevelFromString(runtime.LogLevel)
	logger.SetColored(!runtime.NoColor)

	ensureStateDir(runtime.StateDir)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hook":
			runHook(os.Args[2:], runtime.StateDir)
			return
		case "init":
			runInit(os.Args[2:], runtime.StateDir)
			return
		case "allowlist":
			runAllowlist(os.Args[2:], runtime.StateDir)
			return
		case "cache":
			runCache(os.Args[2:], runtime.StateDir)
			return
		case "approve":
			runApprove(os.Args[2:], runtime.StateDir)
			return
		case "scan":
			runScan(os.Args[2:], runtime.StateDir)
			return
		case "audit":
			runAudit(os.Args[2:], runtime.StateDir)
			return
		case "completion":
			runCompletion(os.Args[2:])
			return
		case "help", "-h", "--help":
			printUsage()
			return
		case "version", "-v", "--version":
			fmt.Printf("sage version %s\n", Version)
			return
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println(`sage - Agent Detection & Response for AI coding assistants

Usage:
  sage hook                          Evaluate one tool call (stdin JSON, stdout JSON)
  sage init                          Interactive setup wizard

  sage allowlist add <url|command|path> <value> [--reason text]
  sage allowlist remove <url|command|path> <value>
  sage allowlist list [--json]

  sage cache show [urls|commands|packages]
  sage cache clear [urls|commands|packages]

  sage approve <actionId> [--session id]   Consume a pending ask approval

  sage scan                          Scan plugins listed on stdin (JSON array)

  sage audit tail [-n N]             Show the last N audit log lines

  sage completion --install          Install shell completion
  sage completion --uninstall        Remove shell completion

  sage version                       Show version
  sage help                          Show this help message

Environment:
  SAGE_STATE_DIR   Override the default ~/.sage state directory
  SAGE_LOG_LEVEL   trace, debug, info, warn, error
  SAGE_NO_COLOR    Disable colored log output`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
