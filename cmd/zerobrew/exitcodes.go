package main

import "os"

// Exit codes let scripts distinguish failure modes without parsing
// stderr.
const (
	ExitSuccess      = 0
	ExitGeneral      = 1
	ExitUsage        = 2
	ExitNotInstalled = 3
	ExitResolution   = 4
	ExitLinkConflict = 5
	ExitCancelled    = 6
)

func exitWithCode(code int) {
	os.Exit(code)
}
