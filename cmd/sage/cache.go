package main

import (
	"encoding/json"
	"fmt"

	"github.com/sage-sh/sage/internal/config"
	"github.com/sage-sh/sage/internal/verdictcache"
)

// runCache implements `sage cache {show,clear} [urls|commands|packages]` (C7
// inspection).
func runCache(args []string, stateDir string) {
	if len(args) == 0 {
		fatalf("usage: sage cache {show,clear} [urls|commands|packages]")
	}

	cfg := config.Load(stateDirConfigPath(stateDir))
	cache := verdictcache.Load(cfg.Cache.Path)

	section := ""
	if len(args) > 1 {
		section = args[1]
	}

	switch args[0] {
	case "show":
		cacheShow(cache, section)
	case "clear":
		cacheClear(cache, section)
	default:
		fatalf("unknown cache subcommand %q", args[0])
	}
}

func cacheShow(cache *verdictcache.Cache, section string) {
	data, err := json.MarshalIndent(map[string]any{
		"urls":     cache.URLs(),
		"commands": cache.Commands(),
		"packages": cache.Packages(),
	}, "", "  ")
	if err != nil {
		fatalf("marshal cache: %v", err)
	}

	if section == "" {
		fmt.Println(string(data))
		return
	}

	_, one := selectSection(cache, section)
	data, _ = json.MarshalIndent(map[string]any{section: one}, "", "  ")
	fmt.Println(string(data))
}

func cacheClear(cache *verdictcache.Cache, section string) {
	switch section {
	case "urls":
		cache.ClearURLs()
	case "commands":
		cache.ClearCommands()
	case "packages":
		cache.ClearPackages()
	case "":
		cache.ClearURLs()
		cache.ClearCommands()
		cache.ClearPackages()
	default:
		fatalf("unknown cache section %q (want urls, commands, or packages)", section)
	}
	cache.Save()
	fmt.Println("Cache cleared.")
}

func selectSection(cache *verdictcache.Cache, section string) (string, any) {
	switch section {
	case "urls":
		return section, cache.URLs()
	case "commands":
		return section, cache.Commands()
	case "packages":
		return section, cache.Packages()
	default:
		return "", nil
	}
}
