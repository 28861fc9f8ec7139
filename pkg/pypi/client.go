// SPDX-License-Identifier: MPL-2.0

// Package pypi is a minimal client for the package index JSON API: resolve a
// project's latest release, pick the distribution most useful for metadata
// extraction (sdists before wheels), and download it with checksum
// verification.
package pypi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"setupx-cli/internal/container"
)

const (
	// DefaultBaseURL is the public index.
	DefaultBaseURL = "https://pypi.org"

	defaultTimeout   = 30 * time.Second
	downloadAttempts = 3
	downloadBackoff  = 2 * time.Second
)

var (
	// ErrProjectNotFound is returned for unknown project names.
	ErrProjectNotFound = errors.New("project not found")
	// ErrNoDistribution is returned when a release has no usable files.
	ErrNoDistribution = errors.New("no usable distribution in release")
	// ErrChecksumMismatch is returned when a download fails verification.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

type (
	// Client talks to a package index's JSON API.
	Client struct {
		baseURL    string
		httpClient *http.Client
	}

	// ClientOption configures a Client.
	ClientOption func(*Client)

	// Project is the subset of release metadata the extractor needs.
	Project struct {
		// Name is the project's declared (non-canonical) name.
		Name string
		// Version is the latest release version.
		Version string
		// Files are the distributions of the latest release.
		Files []File
	}

	// File is one downloadable distribution.
	File struct {
		// Filename is the distribution file name.
		Filename string
		// URL is the download location.
		URL string
		// Kind is the index's package type ("sdist", "bdist_wheel", ...).
		Kind string
		// SHA256 is the hex digest published by the index; empty when the
		// index did not provide one.
		SHA256 string
	}
)

// WithBaseURL points the client at a different index, e.g. a test server or
// a private mirror.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient creates a client for the public index unless overridden.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonResponse mirrors the JSON API's document shape.
type jsonResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	URLs []struct {
		Filename    string `json:"filename"`
		URL         string `json:"url"`
		PackageType string `json:"packagetype"`
		Digests     struct {
			SHA256 string `json:"sha256"`
		} `json:"digests"`
	} `json:"urls"`
}

// Project fetches the latest release of name. The name is canonicalized
// before the lookup, so any spelling the index accepts works here too.
func (c *Client) Project(ctx context.Context, name string) (*Project, error) {
	return c.Release(ctx, name, "")
}

// Release fetches a specific release of name. An empty version resolves to
// the latest release.
func (c *Client) Release(ctx context.Context, name, version string) (*Project, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, CanonicalName(name))
	if version != "" {
		url = fmt.Sprintf("%s/pypi/%s/%s/json", c.baseURL, CanonicalName(name), version)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query index for %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		if version != "" {
			return nil, fmt.Errorf("%w: %s %s", ErrProjectNotFound, name, version)
		}
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	default:
		return nil, fmt.Errorf("query index for %s: unexpected status %s", name, resp.Status)
	}

	var doc jsonResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode index response for %s: %w", name, err)
	}

	project := &Project{Name: doc.Info.Name, Version: doc.Info.Version}
	for _, u := range doc.URLs {
		project.Files = append(project.Files, File{
			Filename: u.Filename,
			URL:      u.URL,
			Kind:     u.PackageType,
			SHA256:   u.Digests.SHA256,
		})
	}
	return project, nil
}

// distRank orders distributions by how useful they are for running setup.py:
// source formats first, gzip tarballs ahead of the rest, built distributions
// as a last resort.
func distRank(f File) int {
	rank := 0
	if f.Kind != "sdist" {
		rank += 10
	}
	switch {
	case strings.HasSuffix(f.Filename, ".tar.gz"), strings.HasSuffix(f.Filename, ".tgz"):
	case strings.HasSuffix(f.Filename, ".zip"):
		rank++
	case strings.HasSuffix(f.Filename, ".tar.bz2"):
		rank += 2
	case strings.HasSuffix(f.Filename, ".whl"):
		rank += 3
	case strings.HasSuffix(f.Filename, ".egg"):
		rank += 4
	default:
		rank += 5
	}
	return rank
}

// PreferredFile picks the distribution to extract metadata from.
func (p *Project) PreferredFile() (File, error) {
	if len(p.Files) == 0 {
		return File{}, fmt.Errorf("%w: %s %s", ErrNoDistribution, p.Name, p.Version)
	}
	best := p.Files[0]
	for _, f := range p.Files[1:] {
		if distRank(f) < distRank(best) {
			best = f
		}
	}
	return best, nil
}

// Download fetches file into destPath, verifying the published checksum when
// one is available. Transient network failures are retried with backoff.
func (c *Client) Download(ctx context.Context, file File, destPath string) error {
	return container.RetryWithBackoff(ctx, downloadAttempts, downloadBackoff,
		func(attempt int) (bool, error) {
			err := c.downloadOnce(ctx, file, destPath)
			if err == nil || errors.Is(err, ErrChecksumMismatch) || ctx.Err() != nil {
				return false, err
			}
			log.Warn("download failed, retrying", "file", file.Filename, "attempt", attempt+1, "err", err)
			return true, err
		})
}

func (c *Client) downloadOnce(ctx context.Context, file File, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", file.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", file.Filename, resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}

	digest := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, digest), resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("download %s: %w", file.Filename, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	if file.SHA256 != "" {
		if got := hex.EncodeToString(digest.Sum(nil)); !strings.EqualFold(got, file.SHA256) {
			_ = os.Remove(destPath)
			return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, file.Filename, got, file.SHA256)
		}
	}
	return nil
}
