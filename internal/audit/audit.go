// Package audit implements the append-only JSONL audit log (C14), with
// size-based rotation.
package audit

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/sage-sh/sage/internal/artifact"
	"github.com/sage-sh/sage/internal/fileutil"
	"github.com/sage-sh/sage/internal/logger"
)

var log = logger.New("audit")

// Entry is one line of the audit log (§4.13).
type Entry struct {
	Type             string              `json:"type"`
	Timestamp        time.Time           `json:"timestamp"`
	SessionID        string              `json:"session_id"`
	ToolName         string              `json:"tool_name"`
	ToolInputSummary string              `json:"tool_input_summary"`
	Artifacts        []artifact.Artifact `json:"artifacts,omitempty"`
	Verdict          string              `json:"verdict"`
	Severity         string              `json:"severity"`
	Reasons          []string            `json:"reasons,omitempty"`
	Source           string              `json:"source"`
	UserOverride     bool                `json:"user_override"`
}

// summaryCap is the per-tool tool_input_summary truncation length (§4.13).
const summaryCap = 200

// Summarize extracts the audit summary field per the tool-specific rule:
// Bash uses the command, WebFetch the url, Write/Edit the file path, and
// anything else the raw JSON args, all truncated at summaryCap runes.
func Summarize(toolName string, rawArgs json.RawMessage) string {
	var args map[string]any
	_ = json.Unmarshal(rawArgs, &args)

	var s string
	switch strings.ToLower(toolName) {
	case "bash", "exec":
		s, _ = args["command"].(string)
	case "webfetch", "web_fetch", "web_search", "browser":
		s, _ = args["url"].(string)
	case "write", "write_file", "edit":
		s, _ = firstString(args, "file_path", "path", "filename", "file")
	default:
		s = string(rawArgs)
	}
	return truncate(s, summaryCap)
}

func firstString(args map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Logger appends verdict/scan entries to a rotated JSONL file.
type Logger struct {
	path     string
	enabled  bool
	logClean bool
	maxBytes int64
	maxFiles int
}

// New builds a Logger. Rotation is disabled when maxBytes or maxFiles is 0.
func New(path string, enabled, logClean bool, maxBytes int64, maxFiles int) *Logger {
	return &Logger{path: path, enabled: enabled, logClean: logClean, maxBytes: maxBytes, maxFiles: maxFiles}
}

// Append writes one entry, skipping allow verdicts unless LogClean or
// UserOverride is set (§4.13). Failures are logged and swallowed — the
// audit log is best-effort, never load-bearing for the verdict itself
// (§7 kind 6).
func (l *Logger) Append(e Entry) {
	if !l.enabled {
		return
	}
	if e.Verdict == "allow" && !l.logClean && !e.UserOverride {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Warn("marshal audit entry: %v", err)
		return
	}
	data = append(data, '\n')

	if err := l.rotateIfNeeded(int64(len(data))); err != nil {
		log.Warn("rotate audit log %s: %v", l.path, err)
	}

	f, err := fileutil.SecureOpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY)
	if err != nil {
		log.Warn("open audit log %s: %v", l.path, err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		log.Warn("write audit log %s: %v", l.path, err)
	}
}

// rotateIfNeeded shifts .N-1→.N down to .1→.2 and renames the active file
// to .1, when the active file would grow to ≥ maxBytes after this append.
// Both maxBytes=0 and maxFiles=0 disable rotation entirely (§4.13).
func (l *Logger) rotateIfNeeded(incoming int64) error {
	if l.maxBytes <= 0 || l.maxFiles <= 0 {
		return nil
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return nil // no active file yet, nothing to rotate
	}
	if info.Size()+incoming < l.maxBytes {
		return nil
	}

	oldest := rotatedPath(l.path, l.maxFiles)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return err
		}
	}
	for n := l.maxFiles - 1; n >= 1; n-- {
		src := rotatedPath(l.path, n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, rotatedPath(l.path, n+1)); err != nil {
			return err
		}
	}
	return os.Rename(l.path, rotatedPath(l.path, 1))
}

func rotatedPath(path string, n int) string {
	return path + "." + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
