package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/fileutil"
)

// runInit implements `sage init` (C17): an interactive huh wizard when
// stdin is a TTY, or a non-interactive default-and-print path otherwise.
func runInit(_ []string, stateDir string) {
	cfg := config.DefaultConfig()

	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // Fd() fits in int on supported platforms
		fmt.Println("Non-interactive stdin: writing default configuration.")
		writeConfig(stateDir, cfg)
		return
	}

	sensitivity := cfg.Sensitivity
	urlCheck := cfg.URLCheck.Enabled
	fileCheck := cfg.FileCheck.Enabled
	packageCheck := cfg.PackageCheck.Enabled
	dir := stateDir

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Sensitivity").
				Description("How aggressively Sage asks/denies").
				Options(
					huh.NewOption("paranoid", "paranoid"),
					huh.NewOption("balanced", "balanced"),
					huh.NewOption("relaxed", "relaxed"),
				).
				Value(&sensitivity),
			huh.NewConfirm().
				Title("Check URLs against reputation service").
				Value(&urlCheck),
			huh.NewConfirm().
				Title("Check file hashes against reputation service").
				Value(&fileCheck),
			huh.NewConfirm().
				Title("Check packages against registry + reputation").
				Value(&packageCheck),
			huh.NewInput().
				Title("State directory").
				Value(&dir),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "init canceled: %v\n", err)
		os.Exit(1)
	}

	cfg.Sensitivity = sensitivity
	cfg.URLCheck.Enabled = urlCheck
	cfg.FileCheck.Enabled = fileCheck
	cfg.PackageCheck.Enabled = packageCheck
	cfg.Cache.Path = filepath.Join(dir, "cache.json")
	cfg.Allowlist.Path = filepath.Join(dir, "allowlist.json")
	cfg.Logging.Path = filepath.Join(dir, "audit.jsonl")

	writeConfig(dir, cfg)
}

func writeConfig(stateDir string, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		fatalf("generated config is invalid: %v", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fatalf("marshal config: %v", err)
	}
	path := filepath.Join(stateDir, "config.json")
	if err := fileutil.WriteAtomic(path, data); err != nil {
		fatalf("write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}
