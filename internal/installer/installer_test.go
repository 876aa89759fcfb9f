package installer_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/download"
	"github.com/zerobrew/zerobrew/internal/installer"
	"github.com/zerobrew/zerobrew/internal/layout"
	"github.com/zerobrew/zerobrew/internal/store"
)

func makeBottleTarGz(t *testing.T, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	content := "#!/bin/sh\necho hi\n"
	hdr := &tar.Header{
		Name: filepath.Join(name, version, "bin", name),
		Mode: 0o755,
		Size: int64(len(content)),
	}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestFixture(t *testing.T) (*installer.Installer, string, string) {
	t.Helper()

	bottle := makeBottleTarGz(t, "jq", "1.7.1")
	sum := sha256.Sum256(bottle)
	digest := hex.EncodeToString(sum[:])

	tag, err := download.PlatformTag("linux", "amd64")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/jq.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "jq",
			"versions": {"stable": "1.7.1"},
			"bottle": {"stable": {"files": {"` + tag + `": {
				"url": "http://` + r.Host + `/jq.tar.gz",
				"sha256": "` + digest + `"
			}}}}
		}`))
	})
	mux.HandleFunc("/jq.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bottle)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resolver := &download.Resolver{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Limiter:    rate.NewLimiter(rate.Inf, 1),
	}

	root := t.TempDir()
	prefix := t.TempDir()

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	blobs, err := store.New(root)
	require.NoError(t, err)

	return installer.New(root, prefix, database, blobs, resolver), prefix, digest
}

func TestPlanExecuteInstallsAndLinksFormula(t *testing.T) {
	inst, prefix, _ := newTestFixture(t)
	ctx := context.Background()

	plan, err := inst.Plan(ctx, []string{"jq"})
	require.NoError(t, err)
	require.Len(t, plan.Artifacts, 1)
	assert.Equal(t, "jq", plan.Artifacts[0].Name)

	require.NoError(t, inst.Execute(ctx, plan, false))

	kegFile := filepath.Join(layout.KegPath(prefix, "jq", "1.7.1"), "bin", "jq")
	_, err = os.Stat(kegFile)
	require.NoError(t, err)

	linked := filepath.Join(prefix, "bin", "jq")
	target, err := os.Readlink(linked)
	require.NoError(t, err)
	assert.Equal(t, kegFile, target)
}

func TestExecuteWithNoLinkSkipsSymlinks(t *testing.T) {
	inst, prefix, _ := newTestFixture(t)
	ctx := context.Background()

	plan, err := inst.Plan(ctx, []string{"jq"})
	require.NoError(t, err)
	require.NoError(t, inst.Execute(ctx, plan, true))

	_, err = os.Lstat(filepath.Join(prefix, "bin", "jq"))
	assert.True(t, os.IsNotExist(err))
}

func TestUninstallReturnsFreedStoreKeyForGC(t *testing.T) {
	inst, _, digest := newTestFixture(t)
	ctx := context.Background()

	plan, err := inst.Plan(ctx, []string{"jq"})
	require.NoError(t, err)
	require.NoError(t, inst.Execute(ctx, plan, false))

	freed, err := inst.Uninstall(ctx, []string{"jq"}, false)
	require.NoError(t, err)
	require.Len(t, freed, 1)
	assert.Equal(t, digest, freed[0])

	removed, err := inst.GC(ctx)
	require.NoError(t, err)
	assert.Contains(t, removed, digest)
}
