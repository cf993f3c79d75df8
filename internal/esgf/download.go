package esgf

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrChecksum is returned when a downloaded file does not match the checksum
// published by the index.
var ErrChecksum = errors.New("checksum mismatch")

// DownloadStats summarises a Download call.
type DownloadStats struct {
	Fetched int
	Skipped int
	Bytes   int64
}

// Download fetches files below root, writing each one to tmpDir first and
// renaming it into place once its checksum is verified. Files already
// present with the expected size are skipped. Failed files are not retried;
// the first error cancels the remaining downloads.
func (c *Client) Download(ctx context.Context, files []File, root, tmpDir string, concurrency int) (DownloadStats, error) {
	var stats DownloadStats
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return stats, errors.Wrap(err, "creating temp dir")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var todo []File
	var total int64
	for _, f := range files {
		if present(f, root) {
			c.logger.Debug("already present", "file", f.Filename)
			stats.Skipped++
			continue
		}
		todo = append(todo, f)
		total += f.Size
	}
	c.logger.Info("downloading", "files", len(todo), "skipped", stats.Skipped, "bytes", total)

	progressCh := make(chan int64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		start := time.Now()
		for n := range progressCh {
			stats.Fetched++
			stats.Bytes += n
			args := []any{"files", fmt.Sprintf("%d/%d", stats.Fetched, len(todo)), "in", time.Since(start).Round(time.Second)}
			if total > 0 {
				args = append(args, "bytes", fmt.Sprintf("%.2f%%", 100*float64(stats.Bytes)/float64(total)))
			}
			c.logger.Info("progress", args...)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, f := range todo {
		f := f
		g.Go(func() error {
			n, err := c.fetch(ctx, f, root, tmpDir)
			if err != nil {
				return errors.Wrapf(err, "downloading %s", f.Filename)
			}
			progressCh <- n
			return nil
		})
	}
	err := g.Wait()
	close(progressCh)
	<-done
	return stats, err
}

func present(f File, root string) bool {
	fi, err := os.Stat(f.LocalPath(root))
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return f.Size == 0 || fi.Size() == f.Size
}

func (c *Client) fetch(ctx context.Context, f File, root, tmpDir string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, errors.Errorf("unexpected status %d from %s", res.StatusCode, f.URL)
	}

	tmp := filepath.Join(tmpDir, f.TempName())
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	h, err := newHash(f.ChecksumType)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return 0, err
	}
	w := io.Writer(out)
	if h != nil {
		w = io.MultiWriter(out, h)
	}
	n, err := io.Copy(w, res.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if h != nil && f.Checksum != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != f.Checksum {
			os.Remove(tmp)
			return 0, errors.Wrapf(ErrChecksum, "%s %s, index says %s", f.ChecksumType, sum, f.Checksum)
		}
	}

	dst := f.LocalPath(root)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	c.logger.Debug("fetched", "file", f.Filename, "bytes", n)
	return n, nil
}

func newHash(checksumType string) (hash.Hash, error) {
	switch strings.ToUpper(checksumType) {
	case "":
		return nil, nil
	case "SHA256":
		return sha256.New(), nil
	case "MD5":
		return md5.New(), nil
	default:
		return nil, errors.Errorf("unsupported checksum type %q", checksumType)
	}
}

// CleanStale removes leftovers of interrupted downloads of files from tmpDir
// and returns how many were removed.
func CleanStale(tmpDir string, files []File) (int, error) {
	var n int
	for _, f := range files {
		base := strings.TrimSuffix(f.TempName(), ".part")
		for _, name := range []string{base + ".part", base + ".done"} {
			err := os.Remove(filepath.Join(tmpDir, name))
			switch {
			case err == nil:
				n++
			case !os.IsNotExist(err):
				return n, err
			}
		}
	}
	return n, nil
}

// Missing returns the files not yet present below root.
func Missing(root string, files []File) []File {
	var out []File
	for _, f := range files {
		if !present(f, root) {
			out = append(out, f)
		}
	}
	return out
}

// Verify returns how many of files are present below root.
func Verify(root string, files []File) int {
	return len(files) - len(Missing(root, files))
}
