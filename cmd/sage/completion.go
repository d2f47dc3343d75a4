package main

import (
	"fmt"
	"os"

	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/install"
	"github.com/posener/complete/v2/predict"
)

// command defines the full sage CLI completion tree.
var command = &complete.Command{
	Sub: map[string]*complete.Command{
		"hook": {Flags: map[string]complete.Predictor{
			"adapter": predict.Set{"claude", "cursor-pretooluse", "cursor-before", "openclaw"},
		}},
		"init": {},
		"allowlist": {Sub: map[string]*complete.Command{
			"add":    {Args: predict.Set{"url", "command", "path"}},
			"remove": {Args: predict.Set{"url", "command", "path"}},
			"list":   {Flags: map[string]complete.Predictor{"json": predict.Nothing}},
		}},
		"cache": {Sub: map[string]*complete.Command{
			"show":  {Args: predict.Set{"urls", "commands", "packages"}},
			"clear": {Args: predict.Set{"urls", "commands", "packages"}},
		}},
		"approve": {Flags: map[string]complete.Predictor{"session": predict.Nothing}},
		"scan":    {},
		"audit":   {Sub: map[string]*complete.Command{"tail": {Flags: map[string]complete.Predictor{"n": predict.Nothing}}}},
		"version": {},
		"help":    {},
	},
}

// Run checks if the binary was invoked for shell completion. If COMP_LINE
// is set (by the shell), it outputs completions and exits, never returning.
func Run() bool {
	if os.Getenv("COMP_LINE") != "" || os.Getenv("COMP_INSTALL") != "" || os.Getenv("COMP_UNINSTALL") != "" {
		command.Complete("sage")
		return true
	}
	return false
}

func runCompletion(args []string) {
	if len(args) == 0 {
		fatalf("usage: sage completion --install|--uninstall")
	}
	switch args[0] {
	case "--install":
		if err := install.Install("sage"); err != nil {
			fatalf("install completion: %v", err)
		}
		fmt.Println("Shell completion installed. Restart your shell.")
	case "--uninstall":
		if err := install.Uninstall("sage"); err != nil {
			fatalf("uninstall completion: %v", err)
		}
		fmt.Println("Shell completion removed.")
	default:
		fatalf("unknown completion flag %q", args[0])
	}
}
