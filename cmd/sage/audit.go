package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/sage-sh/sage/internal/config"
)

// runAudit implements `sage audit tail [-n N]` (C17): a convenience view
// over C14's JSONL, not a new persistence format (SPEC_FULL.md §4.17).
func runAudit(args []string, stateDir string) {
	if len(args) == 0 || args[0] != "tail" {
		fatalf("usage: sage audit tail [-n N]")
	}

	fs := flag.NewFlagSet("audit tail", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of lines to show")
	_ = fs.Parse(args[1:])
	if *n < 1 {
		*n = 20
	}

	cfg := config.Load(stateDirConfigPath(stateDir))
	lines := tailLines(cfg.Logging.Path, *n)
	for _, line := range lines {
		fmt.Println(line)
	}
}

// tailLines reads path and returns at most the last n lines. The audit log
// is append-only JSONL of unbounded size, so this reads the whole file
// rather than seeking from the end — acceptable for an operator-facing
// convenience command, not a hot path.
func tailLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("open audit log %s: %v", path, err)
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
