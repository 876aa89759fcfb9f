// Package migrate implements the Migrator: inventories a Homebrew
// installation and sorts its packages into what zerobrew can take over
// (core formulas) and what it can't (non-core taps, casks).
package migrate

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
)

// Package is one entry from `brew info --json=v1 --installed` or
// `brew list --cask`.
type Package struct {
	Name   string
	Tap    string
	IsCask bool
}

// Plan splits every installed Homebrew package into what migrate can
// take over and what it must skip, with a reason attached to each skip.
type Plan struct {
	Formulas        []Package
	NonCoreFormulas []Package
	Casks           []Package
}

const coreTap = "homebrew/core"
const caskTap = "homebrew/cask"

// ParseFormulasJSON reads the array produced by
// `brew info --json=v1 --installed`, defaulting a missing tap to
// homebrew/core like brew itself does for very old formula receipts.
func ParseFormulasJSON(data []byte) []Package {
	var packages []Package
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return packages
	}

	for _, formula := range result.Array() {
		name := formula.Get("name").String()
		if name == "" {
			continue
		}
		tap := formula.Get("tap").String()
		if tap == "" {
			tap = coreTap
		}
		packages = append(packages, Package{Name: name, Tap: tap})
	}

	return packages
}

// ParseCasks reads the newline-delimited output of `brew list --cask`.
func ParseCasks(output string) []Package {
	var packages []Package
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		packages = append(packages, Package{Name: line, Tap: caskTap, IsCask: true})
	}
	return packages
}

// Categorize sorts packages into migratable core formulas, formulas from
// other taps, and casks — only homebrew/core formulas can be migrated.
func Categorize(packages []Package) Plan {
	var plan Plan
	for _, pkg := range packages {
		switch {
		case pkg.IsCask:
			plan.Casks = append(plan.Casks, pkg)
		case pkg.Tap == coreTap:
			plan.Formulas = append(plan.Formulas, pkg)
		default:
			plan.NonCoreFormulas = append(plan.NonCoreFormulas, pkg)
		}
	}
	return plan
}

// Collect shells out to a live `brew` to inventory every installed
// formula and cask, then categorizes the combined set.
func Collect(ctx context.Context) (Plan, error) {
	formulasOut, err := exec.CommandContext(ctx, "brew", "info", "--json=v1", "--installed").Output()
	if err != nil {
		return Plan{}, fmt.Errorf("running brew info: %w", err)
	}
	formulas := ParseFormulasJSON(formulasOut)

	casksOut, err := exec.CommandContext(ctx, "brew", "list", "--cask").Output()
	if err != nil {
		return Plan{}, fmt.Errorf("running brew list --cask: %w", err)
	}
	casks := ParseCasks(string(casksOut))

	all := make([]Package, 0, len(formulas)+len(casks))
	all = append(all, formulas...)
	all = append(all, casks...)

	return Categorize(all), nil
}

// SkipOverwrite reports whether a formula already installed at
// installedVersion should be left alone when migrating a formula
// available at availableVersion: without --force, migrate never
// downgrades or churns an already-equal install. Unparsable versions are
// treated conservatively as "do overwrite" (the original's caller
// already decided to proceed).
func SkipOverwrite(installedVersion, availableVersion string, force bool) bool {
	if force {
		return false
	}
	installed, err := semver.NewVersion(installedVersion)
	if err != nil {
		return false
	}
	available, err := semver.NewVersion(availableVersion)
	if err != nil {
		return false
	}
	return installed.Compare(available) >= 0
}
