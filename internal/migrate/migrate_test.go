package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFormulasFromJSON(t *testing.T) {
	input := []byte(`[
		{"name": "git", "tap": "homebrew/core", "versions": {"stable": "2.40.0"}},
		{"name": "neovim", "tap": "homebrew/core", "versions": {"stable": "0.9.0"}}
	]`)

	packages := ParseFormulasJSON(input)

	assert.Len(t, packages, 2)
	assert.Equal(t, "git", packages[0].Name)
	assert.Equal(t, "homebrew/core", packages[0].Tap)
	assert.False(t, packages[0].IsCask)
	assert.Equal(t, "neovim", packages[1].Name)
	assert.False(t, packages[1].IsCask)
}

func TestParseFormulasHandlesMissingTap(t *testing.T) {
	input := []byte(`[{"name": "no-tap-formula"}]`)

	packages := ParseFormulasJSON(input)

	assert.Len(t, packages, 1)
	assert.Equal(t, "no-tap-formula", packages[0].Name)
	assert.Equal(t, "homebrew/core", packages[0].Tap)
}

func TestParseCasksFromPlainText(t *testing.T) {
	packages := ParseCasks("visual-studio-code\nfirefox\n")

	assert.Len(t, packages, 2)
	assert.Equal(t, "visual-studio-code", packages[0].Name)
	assert.Equal(t, "homebrew/cask", packages[0].Tap)
	assert.True(t, packages[0].IsCask)
	assert.Equal(t, "firefox", packages[1].Name)
	assert.True(t, packages[1].IsCask)
}

func TestParseCasksHandlesEmptyOutput(t *testing.T) {
	assert.Empty(t, ParseCasks(""))
}

func TestParseCasksHandlesMultipleLines(t *testing.T) {
	packages := ParseCasks("visual-studio-code\nfirefox\ndocker\niterm2\n")

	names := make([]string, len(packages))
	for i, p := range packages {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"visual-studio-code", "firefox", "docker", "iterm2"}, names)
}

func TestCategorizePackagesFiltersCoreFormulas(t *testing.T) {
	packages := []Package{
		{Name: "git", Tap: "homebrew/core"},
		{Name: "curl", Tap: "homebrew/core"},
	}

	plan := Categorize(packages)

	assert.Len(t, plan.Formulas, 2)
	assert.Empty(t, plan.NonCoreFormulas)
	assert.Empty(t, plan.Casks)
}

func TestCategorizePackagesFiltersNonCoreFormulas(t *testing.T) {
	packages := []Package{
		{Name: "php", Tap: "shivammathur/php"},
		{Name: "mysql", Tap: "homebrew/mysql"},
	}

	plan := Categorize(packages)

	assert.Empty(t, plan.Formulas)
	assert.Len(t, plan.NonCoreFormulas, 2)
	assert.Empty(t, plan.Casks)
}

func TestCategorizePackagesFiltersCasks(t *testing.T) {
	packages := []Package{
		{Name: "visual-studio-code", Tap: "homebrew/cask", IsCask: true},
		{Name: "firefox", Tap: "homebrew/cask", IsCask: true},
	}

	plan := Categorize(packages)

	assert.Empty(t, plan.Formulas)
	assert.Empty(t, plan.NonCoreFormulas)
	assert.Len(t, plan.Casks, 2)
}

func TestCategorizePackagesMixedPackages(t *testing.T) {
	packages := []Package{
		{Name: "git", Tap: "homebrew/core"},
		{Name: "php", Tap: "homebrew/php"},
		{Name: "visual-studio-code", Tap: "homebrew/cask", IsCask: true},
	}

	plan := Categorize(packages)

	assert.Len(t, plan.Formulas, 1)
	assert.Equal(t, "git", plan.Formulas[0].Name)
	assert.Len(t, plan.NonCoreFormulas, 1)
	assert.Equal(t, "php", plan.NonCoreFormulas[0].Name)
	assert.Len(t, plan.Casks, 1)
	assert.Equal(t, "visual-studio-code", plan.Casks[0].Name)
}

func TestSkipOverwriteWithoutForce(t *testing.T) {
	assert.True(t, SkipOverwrite("1.7.1", "1.7.0", false), "installed is newer, skip without force")
	assert.True(t, SkipOverwrite("1.7.1", "1.7.1", false), "same version, skip without force")
	assert.False(t, SkipOverwrite("1.7.0", "1.7.1", false), "installed is older, proceed")
}

func TestSkipOverwriteWithForceAlwaysProceeds(t *testing.T) {
	assert.False(t, SkipOverwrite("9.9.9", "1.0.0", true))
}

func TestSkipOverwriteTreatsUnparsableVersionsAsProceed(t *testing.T) {
	assert.False(t, SkipOverwrite("HEAD-abcdef", "1.0.0", false))
}
