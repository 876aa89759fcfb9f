package main

import (
	"errors"

	"github.com/zerobrew/zerobrew/internal/zberr"
)

// exitCodeFor maps the core engine's error taxonomy to a process exit
// code, so scripts driving zb can distinguish failure modes without
// parsing stderr text.
func exitCodeFor(err error) int {
	var notInstalled *zberr.NotInstalled
	if errors.As(err, &notInstalled) {
		return ExitNotInstalled
	}

	var resolutionFailed *zberr.ResolutionFailed
	if errors.As(err, &resolutionFailed) {
		return ExitResolution
	}

	var linkConflict *zberr.LinkConflict
	if errors.As(err, &linkConflict) {
		return ExitLinkConflict
	}

	return ExitGeneral
}
