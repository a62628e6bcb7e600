// Package fetch downloads package tarballs and keeps them in an on-disk cache.
//
// A package is visible in the cache only once it has been extracted completely: downloads go
// to a temporary file, extraction goes to a scratch directory next to the destination and the
// final step is a single rename.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/epine-build/epine/pkg/output"
)

const (
	DefaultBaseURL = "https://github.com"
	DefaultTimeout = 5 * time.Minute
)

// Options configures a Fetcher.
type Options struct {
	// CacheRoot is the directory containing the github/ cache tree.
	CacheRoot string
	// BaseURL is the server hosting the tarballs, DefaultBaseURL if empty.
	BaseURL string
	// Timeout bounds a single download, DefaultTimeout if zero.
	Timeout time.Duration
	// Progress enables a progress bar on ProgressWriter (stderr if nil).
	Progress       bool
	ProgressWriter io.Writer
	Client         *http.Client
}

// Fetcher materializes package coordinates into local directories.
type Fetcher struct {
	opts   Options
	client *http.Client
}

// New creates a Fetcher for the given options.
func New(opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.ProgressWriter == nil {
		opts.ProgressWriter = os.Stderr
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Fetcher{opts: opts, client: client}
}

// CachePath returns the directory c is (or would be) stored in.
func (f *Fetcher) CachePath(c Coordinate) string {
	return c.CachePath(f.opts.CacheRoot)
}

// URL returns the tarball endpoint for c.
func (f *Fetcher) URL(c Coordinate) string {
	return f.opts.BaseURL + "/" + url.PathEscape(c.Owner) + "/" + url.PathEscape(c.Repository) +
		"/tarball/" + url.PathEscape(c.Ref)
}

// Fetch returns the local directory holding c, downloading it first if it's not cached yet.
func (f *Fetcher) Fetch(ctx context.Context, c Coordinate) (string, error) {
	dest := f.CachePath(c)

	info, err := os.Stat(dest)
	if err == nil {
		if !info.IsDir() {
			return "", &Error{Coordinate: c, Err: eris.Errorf("cache entry %s is not a directory", dest)}
		}

		output.Log(ctx).Debug().Str("path", dest).Msgf("Using cached package %s", c)
		return dest, nil
	}
	if !eris.Is(err, os.ErrNotExist) {
		return "", &Error{Coordinate: c, Err: eris.Wrapf(err, "failed to check cache entry %s", dest)}
	}

	link := f.URL(c)
	output.Log(ctx).Info().Str("url", link).Msgf("Downloading %s", c)

	err = f.download(ctx, link, dest)
	if err != nil {
		return "", &Error{Coordinate: c, URL: link, Err: err}
	}

	output.Log(ctx).Debug().Str("path", dest).Msgf("Stored %s", c)
	return dest, nil
}

func (f *Fetcher) download(ctx context.Context, link, dest string) error {
	parent := filepath.Dir(dest)
	err := os.MkdirAll(parent, 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", parent)
	}

	// Both the download and the scratch directory live next to the destination so the final
	// rename never crosses file systems.
	id := nanoid.New()
	arPath := filepath.Join(parent, ".download-"+id+".tmp")
	arHandle, err := os.Create(arPath)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", arPath)
	}
	defer func() {
		arHandle.Close()
		os.Remove(arPath)
	}()

	err = f.get(ctx, link, arHandle)
	if err != nil {
		return err
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrapf(err, "failed to rewind %s", arPath)
	}

	scratch := filepath.Join(parent, ".extract-"+id)
	err = os.Mkdir(scratch, 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create scratch directory %s", scratch)
	}
	defer os.RemoveAll(scratch)

	reader, err := decompress(arHandle)
	if err != nil {
		return err
	}
	defer reader.Close()

	err = extractTar(reader, scratch)
	if err != nil {
		return err
	}

	top, err := topLevelDir(scratch)
	if err != nil {
		return err
	}

	err = os.Rename(top, dest)
	if err != nil {
		// another process may have won the race for the same package
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			output.Log(ctx).Debug().Str("path", dest).Msg("Package appeared while extracting, keeping the existing copy")
			return nil
		}
		return eris.Wrapf(err, "failed to move %s to %s", top, dest)
	}

	return nil
}

func (f *Fetcher) get(ctx context.Context, link string, dest io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return eris.Wrapf(err, "failed to build request for %s", link)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to start download for %s", link)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("unexpected response status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		body = brotli.NewReader(resp.Body)
	}

	bar := f.progressBar(resp.ContentLength)
	_, err = io.Copy(io.MultiWriter(dest, bar), body)
	bar.Finish()
	if err != nil {
		return eris.Wrapf(err, "failed during download of %s", link)
	}

	return nil
}

func (f *Fetcher) progressBar(length int64) *progressbar.ProgressBar {
	if !f.opts.Progress {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWriter(f.opts.ProgressWriter),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(f.opts.ProgressWriter, "\n")
		}),
	)
}

// topLevelDir returns the single directory hosting services wrap tarball contents in.
func topLevelDir(scratch string) (string, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", eris.Wrapf(err, "failed to list %s", scratch)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	switch len(dirs) {
	case 0:
		return "", eris.New("archive does not contain a top-level directory")
	case 1:
		return filepath.Join(scratch, dirs[0]), nil
	default:
		return "", eris.Errorf("archive contains %d top-level directories, expected one", len(dirs))
	}
}
