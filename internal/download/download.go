// Package download implements the Downloader collaborator: resolving a
// formula name to its current bottle artifact via the Homebrew formula
// JSON API, then streaming and verifying that artifact.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/zerobrew/zerobrew/internal/zberr"
)

// Artifact is a resolved bottle ready to fetch: its download URL and the
// sha256 digest Homebrew's API claims for it.
type Artifact struct {
	Name        string
	Version     string
	URL         string
	SHA256      string
	PlatformTag string
}

// formulaResponse is the subset of formulae.brew.sh's per-formula JSON
// document this collaborator reads.
type formulaResponse struct {
	Name     string `json:"name"`
	Versions struct {
		Stable string `json:"stable"`
	} `json:"versions"`
	Bottle struct {
		Stable struct {
			Files map[string]struct {
				URL    string `json:"url"`
				SHA256 string `json:"sha256"`
			} `json:"files"`
		} `json:"stable"`
	} `json:"bottle"`
}

// Resolver looks up bottle artifacts and streams them; a thin HTTP client
// wrapper so tests can substitute a fake server via BaseURL.
type Resolver struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// New returns a Resolver pointed at the production Homebrew formula API,
// sharing one rate limiter across every Fetch call it makes — the
// Installer hands the same *Resolver to every concurrent formula
// download in a plan.
func New() *Resolver {
	return &Resolver{
		BaseURL:    "https://formulae.brew.sh/api/formula",
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(8), 8),
	}
}

// PlatformTag derives the Homebrew bottle platform tag for the running
// OS/arch, matching the tag keys under bottle.stable.files.
func PlatformTag(goos, goarch string) (string, error) {
	switch {
	case goos == "darwin" && goarch == "arm64":
		return "arm64_sonoma", nil
	case goos == "darwin" && goarch == "amd64":
		return "sonoma", nil
	case goos == "linux" && goarch == "arm64":
		return "arm64_linux", nil
	case goos == "linux" && goarch == "amd64":
		return "x86_64_linux", nil
	default:
		return "", fmt.Errorf("unsupported platform: %s/%s", goos, goarch)
	}
}

// Resolve looks up name's current stable bottle for the running platform.
func (r *Resolver) Resolve(ctx context.Context, name string) (Artifact, error) {
	tag, err := PlatformTag(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return Artifact{}, &zberr.ResolutionFailed{Name: name, Reason: err.Error()}
	}

	url := fmt.Sprintf("%s/%s.json", r.BaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Artifact{}, &zberr.ResolutionFailed{Name: name, Reason: err.Error()}
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return Artifact{}, &zberr.ResolutionFailed{Name: name, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Artifact{}, &zberr.ResolutionFailed{
			Name:   name,
			Reason: fmt.Sprintf("formula API returned %d", resp.StatusCode),
		}
	}

	var formula formulaResponse
	if err := json.NewDecoder(resp.Body).Decode(&formula); err != nil {
		return Artifact{}, &zberr.ResolutionFailed{Name: name, Reason: "malformed formula JSON: " + err.Error()}
	}

	file, ok := formula.Bottle.Stable.Files[tag]
	if !ok {
		return Artifact{}, &zberr.ResolutionFailed{
			Name:   name,
			Reason: fmt.Sprintf("no bottle published for platform tag %q", tag),
		}
	}

	return Artifact{
		Name:        name,
		Version:     formula.Versions.Stable,
		URL:         file.URL,
		SHA256:      file.SHA256,
		PlatformTag: tag,
	}, nil
}

// Fetch streams artifact's bottle tarball into dest, rate-limited by the
// shared Limiter, and verifies the downloaded bytes against the expected
// sha256. The returned digest is the StoreKey: a fresh sha256 of the
// actual bytes received, not merely an echo of Artifact.SHA256.
func (r *Resolver) Fetch(ctx context.Context, artifact Artifact, dest io.Writer) (string, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		return "", &zberr.ResolutionFailed{Name: artifact.Name, Reason: "rate limiter: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return "", &zberr.ResolutionFailed{Name: artifact.Name, Reason: err.Error()}
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", &zberr.ResolutionFailed{Name: artifact.Name, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &zberr.ResolutionFailed{
			Name:   artifact.Name,
			Reason: fmt.Sprintf("bottle download returned %d", resp.StatusCode),
		}
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dest, hasher), resp.Body); err != nil {
		return "", &zberr.ResolutionFailed{Name: artifact.Name, Reason: "download interrupted: " + err.Error()}
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if artifact.SHA256 != "" && digest != artifact.SHA256 {
		return "", &zberr.ResolutionFailed{
			Name:   artifact.Name,
			Reason: fmt.Sprintf("sha256 mismatch: expected %s, got %s", artifact.SHA256, digest),
		}
	}

	return digest, nil
}
