package cmip6

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// ErrNoFiles is returned by Locate when no granule matches.
var ErrNoFiles = errors.New("no files found")

// Pattern returns the recursive glob matching a variable's granules, e.g.
// "**/tas_Amon_*.nc".
func Pattern(variable, table string) string {
	return "**/" + variable + "_" + table + "_*.nc"
}

// Locate finds every granule of variable/table below root. Results are
// ordered by path.
func Locate(logger *slog.Logger, root, variable, table string) ([]Granule, error) {
	pattern := Pattern(variable, table)
	if _, err := os.Stat(root); err != nil {
		return nil, errors.Wrapf(ErrNoFiles, "%s under %s: %v", pattern, root, err)
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.Wrapf(err, "searching %s under %s", pattern, root)
	}
	if len(matches) == 0 {
		return nil, errors.Wrapf(ErrNoFiles, "%s under %s", pattern, root)
	}
	sort.Strings(matches)

	granules := make([]Granule, len(matches))
	for i, m := range matches {
		granules[i] = NewGranule(filepath.Join(root, filepath.FromSlash(m)))
	}
	logger.Info("found granules", "variable", variable, "table", table, "count", len(granules),
		"first", filepath.Base(granules[0].Path))
	return granules, nil
}
