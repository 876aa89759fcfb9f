package relocate

import (
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compileDummyELF builds a trivial dynamically-linked executable with an
// RPATH containing the placeholder, so relocateELF has a real binary to
// patch. It returns "" if cc isn't available.
func compileDummyELF(t *testing.T, dir, name string) string {
	t.Helper()

	srcPath := filepath.Join(dir, name+".c")
	require.NoError(t, os.WriteFile(srcPath, []byte("int main(void) { return 0; }\n"), 0o644))

	outPath := filepath.Join(dir, name)
	cmd := exec.Command("cc", srcPath, "-o", outPath, "-Wl,-rpath,@@HOMEBREW_PREFIX@@/lib")
	if err := cmd.Run(); err != nil {
		return ""
	}
	return outPath
}

func readELFRunPath(t *testing.T, path string) string {
	t.Helper()

	f, err := elf.Open(path)
	require.NoError(t, err)
	defer f.Close()

	runpaths, err := f.DynString(elf.DT_RUNPATH)
	require.NoError(t, err)
	if len(runpaths) > 0 {
		return runpaths[0]
	}

	rpaths, err := f.DynString(elf.DT_RPATH)
	require.NoError(t, err)
	require.NotEmpty(t, rpaths, "binary has neither DT_RUNPATH nor DT_RPATH")
	return rpaths[0]
}

func TestPatchesELFFile(t *testing.T) {
	tmp := t.TempDir()
	prefix := filepath.Join(tmp, "prefix")
	binDir := filepath.Join(prefix, "Cellar", "testpkg", "1.0.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))

	elfPath := compileDummyELF(t, binDir, "testbin")
	if elfPath == "" {
		t.Skip("cc not found, skipping ELF patch test")
	}

	before, err := os.Stat(elfPath)
	require.NoError(t, err)
	require.NotZero(t, before.Mode()&0o111, "compiled binary should be executable")

	changed, err := relocateELF(elfPath, prefix, &inodeSet{})
	require.NoError(t, err)
	assert.True(t, changed)

	after, err := os.Stat(elfPath)
	require.NoError(t, err)
	assert.Equal(t, before.Mode(), after.Mode(), "permissions should be preserved after patching")

	runpath := readELFRunPath(t, elfPath)
	assert.True(t, strings.HasPrefix(runpath, prefix), "runpath %q should be rewritten under %q", runpath, prefix)
	assert.NotContains(t, runpath, "@@HOMEBREW_PREFIX@@")
	assert.Contains(t, runpath, filepath.Join(prefix, "lib"))
}

// TestPatchesELFFileGrowsOversizedRunpath grounds the growth path added for
// the fact that @@HOMEBREW_PREFIX@@ (19 bytes) is almost always shorter
// than a real install prefix: this uses a deliberately long prefix so the
// rewritten RUNPATH cannot fit in the original slot.
func TestPatchesELFFileGrowsOversizedRunpath(t *testing.T) {
	tmp := t.TempDir()
	longPrefix := filepath.Join(tmp, "a-prefix-dramatically-longer-than-the-homebrew-placeholder-ever-was")
	binDir := filepath.Join(longPrefix, "Cellar", "testpkg", "1.0.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))

	elfPath := compileDummyELF(t, binDir, "testbin")
	if elfPath == "" {
		t.Skip("cc not found, skipping ELF patch test")
	}

	changed, err := relocateELF(elfPath, longPrefix, &inodeSet{})
	require.NoError(t, err)
	assert.True(t, changed)

	runpath := readELFRunPath(t, elfPath)
	assert.Contains(t, runpath, filepath.Join(longPrefix, "lib"))

	f, err := elf.Open(elfPath)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.DynString(elf.DT_NEEDED)
	require.NoError(t, err, "dynamic string table should still parse after relocation")
}

func TestPatchesTextFiles(t *testing.T) {
	tmp := t.TempDir()
	prefix := filepath.Join(tmp, "prefix")
	binDir := filepath.Join(prefix, "Cellar", "testpkg", "1.0.0", "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))

	scriptPath := filepath.Join(binDir, "script.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(
		"#!/bin/bash\necho @@HOMEBREW_PREFIX@@\necho @@HOMEBREW_CELLAR@@"), 0o644))

	changed, err := relocateTextFile(scriptPath, prefix)
	require.NoError(t, err)
	assert.True(t, changed)

	content, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), prefix)
	assert.Contains(t, string(content), filepath.Join(prefix, "Cellar"))
	assert.NotContains(t, string(content), "@@HOMEBREW_PREFIX@@")
}

func TestPatchesTextFilesIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	prefix := filepath.Join(tmp, "prefix")
	path := filepath.Join(tmp, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("echo @@HOMEBREW_PREFIX@@"), 0o644))

	changed, err := relocateTextFile(path, prefix)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = relocateTextFile(path, prefix)
	require.NoError(t, err)
	assert.False(t, changed, "second pass over already-patched content should be a no-op")
}

func TestRelocateTextFileSkipsBinaryData(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x01@@HOMEBREW_PREFIX@@"), 0o644))

	changed, err := relocateTextFile(path, "/opt/zerobrew")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGlibcDetectionNoneInstalled(t *testing.T) {
	tmp := t.TempDir()
	_, ok := detectZerobrewGlibc(tmp)
	assert.False(t, ok)
}

func TestGlibcDetectionFindsInterpreter(t *testing.T) {
	tmp := t.TempDir()
	libDir := filepath.Join(tmp, "Cellar", "glibc", "2.38", "lib")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	ldPath := filepath.Join(libDir, "ld-linux-x86-64.so.2")
	require.NoError(t, os.WriteFile(ldPath, []byte("mock"), 0o644))

	detected, ok := detectZerobrewGlibc(tmp)
	require.True(t, ok)
	assert.Equal(t, ldPath, detected)
}

func TestGlibcDetectionPicksNewestVersion(t *testing.T) {
	tmp := t.TempDir()
	for _, version := range []string{"2.38", "2.39"} {
		libDir := filepath.Join(tmp, "Cellar", "glibc", version, "lib")
		require.NoError(t, os.MkdirAll(libDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(libDir, "ld-linux-x86-64.so.2"), []byte("mock"), 0o644))
	}

	detected, ok := detectZerobrewGlibc(tmp)
	require.True(t, ok)
	assert.Contains(t, detected, "2.39")
}

func TestComputeNewRpathSubstitutesAndFilters(t *testing.T) {
	old := "@@HOMEBREW_PREFIX@@/lib:/usr/lib:$ORIGIN/../lib"
	got := computeNewRpath(old, "/opt/zerobrew")

	assert.Contains(t, got, "/opt/zerobrew/lib")
	assert.Contains(t, got, "$ORIGIN/../lib")
	assert.NotContains(t, got, "/usr/lib:")
	assert.NotContains(t, got, "@@HOMEBREW_PREFIX@@")
}

func TestComputeNewRpathAddsLibPathWhenAbsent(t *testing.T) {
	got := computeNewRpath("$ORIGIN/../lib", "/opt/zerobrew")
	assert.Contains(t, got, filepath.Join("/opt/zerobrew", "lib"))
}

func TestInodeSetMarksProcessedOnce(t *testing.T) {
	var set inodeSet
	key := inodeKey{dev: 1, ino: 42}

	assert.True(t, set.markProcessed(key))
	assert.False(t, set.markProcessed(key))
}

func TestIsELFAndIsMachOMagic(t *testing.T) {
	elf, ok := readMagic([]byte{0x7F, 'E', 'L', 'F', 0x02})
	require.True(t, ok)
	assert.True(t, isELF(elf))
	assert.False(t, isMachO(elf))

	macho, ok := readMagic([]byte{0xCF, 0xFA, 0xED, 0xFE})
	require.True(t, ok)
	assert.True(t, isMachO(macho))
	assert.False(t, isELF(macho))
}
