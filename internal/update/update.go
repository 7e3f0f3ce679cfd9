// Package update self-updates the chronicle binary from GitHub
// releases. Installs are checksum-verified against the release's
// SHA256SUMS file; an unverifiable binary is never installed.
package update

import (
	"archive/tar"
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/mod/semver"
)

const (
	releaseURL    = "https://api.github.com/repos/usechronicle/chronicle/releases/latest"
	checksumsName = "SHA256SUMS"
	cacheFile     = "update_check.json"
	cacheWindow   = time.Hour
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

type release struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		Size               int64  `json:"size"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Info describes an available update.
type Info struct {
	CurrentVersion string
	LatestVersion  string
	AssetName      string
	DownloadURL    string
	Size           int64
	Checksum       string
}

// assetName is the release artifact for this platform, e.g.
// chronicle_1.4.0_linux_amd64.tar.gz.
func assetName(version string) string {
	ext := ".tar.gz"
	if runtime.GOOS == "windows" {
		ext = ".zip"
	}
	return fmt.Sprintf("chronicle_%s_%s_%s%s",
		strings.TrimPrefix(version, "v"),
		runtime.GOOS, runtime.GOARCH, ext)
}

func canonical(version string) string {
	return "v" + strings.TrimPrefix(version, "v")
}

// Check fetches the latest release and reports whether it is newer
// than currentVersion. Returns (nil, nil) when already up to date.
// Versions that do not parse as semver (dev builds) are always
// considered out of date.
func Check(currentVersion string) (*Info, error) {
	rel, err := fetchLatest()
	if err != nil {
		return nil, fmt.Errorf("checking for update: %w", err)
	}

	latest := canonical(rel.TagName)
	current := canonical(currentVersion)
	if semver.IsValid(current) && semver.Compare(latest, current) <= 0 {
		return nil, nil
	}

	info := &Info{
		CurrentVersion: currentVersion,
		LatestVersion:  rel.TagName,
		AssetName:      assetName(rel.TagName),
	}
	var checksumsURL string
	for _, a := range rel.Assets {
		switch a.Name {
		case info.AssetName:
			info.DownloadURL = a.BrowserDownloadURL
			info.Size = a.Size
		case checksumsName:
			checksumsURL = a.BrowserDownloadURL
		}
	}
	if info.DownloadURL == "" {
		return nil, fmt.Errorf("no release asset for %s/%s",
			runtime.GOOS, runtime.GOARCH)
	}
	if checksumsURL != "" {
		info.Checksum, err = fetchChecksum(checksumsURL, info.AssetName)
		if err != nil {
			return nil, err
		}
	}
	return info, nil
}

// CheckCached is Check behind a one-hour cache so that routine CLI
// invocations do not hit the GitHub API. The cache only stores the
// latest version; callers installing an update use Check directly.
func CheckCached(currentVersion, cacheDir string) (string, error) {
	path := filepath.Join(cacheDir, cacheFile)
	var cached struct {
		CheckedAt time.Time `json:"checked_at"`
		Version   string    `json:"version"`
	}
	if data, err := os.ReadFile(path); err == nil {
		if json.Unmarshal(data, &cached) == nil &&
			time.Since(cached.CheckedAt) < cacheWindow {
			return cached.Version, nil
		}
	}

	rel, err := fetchLatest()
	if err != nil {
		return "", err
	}
	cached.CheckedAt = time.Now()
	cached.Version = rel.TagName
	if data, err := json.Marshal(cached); err == nil {
		_ = os.MkdirAll(cacheDir, 0o755)
		_ = os.WriteFile(path, data, 0o600)
	}
	return rel.TagName, nil
}

// Newer reports whether latest is a higher version than current.
func Newer(latest, current string) bool {
	current = canonical(current)
	if !semver.IsValid(current) {
		return true
	}
	return semver.Compare(canonical(latest), current) > 0
}

func fetchLatest() (*release, error) {
	req, err := http.NewRequest(http.MethodGet, releaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "chronicle-update")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %s", resp.Status)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func fetchChecksum(url, asset string) (string, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetching checksums: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching checksums: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return parseChecksums(string(body), asset), nil
}

// parseChecksums scans sha256sum-format output for the given asset.
func parseChecksums(body, asset string) string {
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") == asset &&
			len(fields[0]) == 64 {
			return strings.ToLower(fields[0])
		}
	}
	return ""
}

// Apply downloads, verifies, and installs the update over the
// currently running executable.
func Apply(info *Info, progress func(done, total int64)) error {
	if info.Checksum == "" {
		return fmt.Errorf("no checksum published for %s, refusing install",
			info.AssetName)
	}

	tmpDir, err := os.MkdirTemp("", "chronicle-update-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, info.AssetName)
	sum, err := download(info.DownloadURL, archive, info.Size, progress)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", info.AssetName, err)
	}
	if !strings.EqualFold(sum, info.Checksum) {
		return fmt.Errorf("checksum mismatch for %s: want %s, got %s",
			info.AssetName, info.Checksum, sum)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	return installArchive(archive, exe)
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "chronicle.exe"
	}
	return "chronicle"
}

func installArchive(archive, dst string) error {
	extractDir, err := os.MkdirTemp("", "chronicle-extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(extractDir)

	if strings.HasSuffix(archive, ".zip") {
		err = extractZip(archive, extractDir)
	} else {
		err = extractTarGz(archive, extractDir)
	}
	if err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}

	src := filepath.Join(extractDir, binaryName())
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("archive does not contain %s", binaryName())
	}
	return replaceBinary(src, dst)
}

// replaceBinary swaps dst for src with a rename-then-copy so the
// running executable is never truncated in place, and the old binary
// can be restored if the copy fails.
func replaceBinary(src, dst string) error {
	backup := dst + ".old"
	os.Remove(backup)

	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("backing up current binary: %w", err)
		}
	}
	if err := copyFile(src, dst); err != nil {
		if restoreErr := os.Rename(backup, dst); restoreErr != nil {
			return fmt.Errorf("installing: %w (restore failed: %v)",
				err, restoreErr)
		}
		return fmt.Errorf("installing: %w", err)
	}
	if err := os.Chmod(dst, 0o755); err != nil {
		return err
	}
	os.Remove(backup)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func download(
	url, dst string, total int64, progress func(done, total int64),
) (string, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	hasher := sha256.New()
	body := io.Reader(resp.Body)
	if progress != nil {
		body = &progressReader{r: resp.Body, total: total, fn: progress}
	}
	if _, err := io.Copy(io.MultiWriter(out, hasher), body); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}

// securePath joins name under dir, rejecting traversal outside it.
func securePath(dir, name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("absolute path in archive")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes archive root")
	}
	return filepath.Join(dir, clean), nil
}

func extractTarGz(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return fmt.Errorf("entry %q: %w", hdr.Name, err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if err := os.Chmod(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		}
		// Symlinks and hard links are skipped.
	}
}

func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := securePath(dir, f.Name)
		if err != nil {
			return fmt.Errorf("entry %q: %w", f.Name, err)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		if closeErr := out.Close(); copyErr == nil {
			copyErr = closeErr
		}
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

// FormatSize renders a byte count for the download prompt.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for x := n / unit; x >= unit; x /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
