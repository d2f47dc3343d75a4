package main

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/sage-sh/sage/internal/allowlist"
	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/normalize"
)

// runAllowlist implements `sage allowlist {add,remove,list}` (C6).
func runAllowlist(args []string, stateDir string) {
	if len(args) == 0 {
		fatalf("usage: sage allowlist {add,remove,list} ...")
	}

	cfg := config.Load(stateDirConfigPath(stateDir))
	paths := normalize.NewPaths()
	store := allowlist.Load(cfg.Allowlist.Path, paths)

	switch args[0] {
	case "add":
		allowlistAdd(store, args[1:])
	case "remove":
		allowlistRemove(store, args[1:])
	case "list":
		allowlistList(store, args[1:])
	default:
		fatalf("unknown allowlist subcommand %q", args[0])
	}
}

func allowlistAdd(store *allowlist.Store, args []string) {
	fs := flag.NewFlagSet("allowlist add", flag.ExitOnError)
	reason := fs.String("reason", "", "Why this artifact is allowlisted")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		fatalf("usage: sage allowlist add {url,command,path} <value> [--reason text]")
	}
	kind, value := rest[0], rest[1]

	switch kind {
	case "url":
		store.AddURL(value, *reason, "")
	case "command":
		store.AddCommand(value, *reason, "")
	case "path":
		store.AddFilePath(value, *reason, "")
	default:
		fatalf("unknown artifact kind %q (want url, command, or path)", kind)
	}
	store.Save()
	fmt.Printf("Allowlisted %s: %s\n", kind, value)
}

func allowlistRemove(store *allowlist.Store, args []string) {
	if len(args) != 2 {
		fatalf("usage: sage allowlist remove {url,command,path} <value>")
	}
	kind, value := args[0], args[1]

	switch kind {
	case "url":
		store.RemoveURL(value)
	case "command":
		store.RemoveCommand(value)
	case "path":
		store.RemoveFilePath(value)
	default:
		fatalf("unknown artifact kind %q (want url, command, or path)", kind)
	}
	store.Save()
	fmt.Printf("Removed %s from allowlist: %s\n", kind, value)
}

func allowlistList(store *allowlist.Store, args []string) {
	fs := flag.NewFlagSet("allowlist list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	_ = fs.Parse(args)

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]any{
			"urls":       store.URLs(),
			"commands":   store.Commands(),
			"file_paths": store.FilePaths(),
		}, "", "  ")
		fmt.Println(string(data))
		return
	}

	printEntries := func(label string, entries map[string]allowlist.Entry) {
		fmt.Printf("%s (%d):\n", label, len(entries))
		for key, e := range entries {
			fmt.Printf("  %s  reason=%q  added=%s\n", key, e.Reason, e.AddedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
	}
	printEntries("URLs", store.URLs())
	printEntries("Commands", store.Commands())
	printEntries("File paths", store.FilePaths())
}
