package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/khanhnv2901/poc-cli/internal/domain/poc"
	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Loader resolves POC paths into modules. Entries of a path list may be
// definition files, directories of definitions, or IDs of modules compiled
// into the catalog.
type Loader struct {
	catalog *poc.Catalog
	logger  *zap.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithCatalog lets path entries name compiled-in modules.
func WithCatalog(c *poc.Catalog) Option {
	return func(l *Loader) { l.catalog = c }
}

// WithLogger sets the logger used for per-file diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a loader.
func New(opts ...Option) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves a comma-separated list of entries. Per-file failures and
// entries that do not exist are recorded in the result's unloaded list and
// never abort the scan. A list where no entry resolves at all is a
// *errors.ConfigError.
func (l *Loader) Load(path string, recursive bool) (poc.LoadResult, error) {
	var res poc.LoadResult

	entries := splitEntries(path)
	if len(entries) == 0 {
		return res, sharedErrors.NewConfigError("pocFile", sharedErrors.ErrMissingRequired)
	}

	var firstErr error
	resolved := 0
	for _, entry := range entries {
		info, err := os.Stat(entry)
		if err != nil {
			if m, ok := l.fromCatalog(entry); ok {
				resolved++
				res.Add(m)
				continue
			}
			// A missing entry is unloaded; the rest of the list still loads.
			if firstErr == nil {
				firstErr = err
			}
			l.logger.Warn("entry_unresolved", zap.String("entry", entry), zap.Error(err))
			res.Reject(entry, &sharedErrors.LoadError{Path: entry, Err: err})
			continue
		}
		resolved++

		if !info.IsDir() {
			l.loadInto(&res, entry)
			continue
		}

		files, err := collect(entry, recursive)
		if err != nil {
			return poc.LoadResult{}, sharedErrors.NewConfigError("pocFile", err)
		}
		if len(files) == 0 {
			l.logger.Warn("no_definitions", zap.String("dir", entry))
		}
		for _, f := range files {
			l.loadInto(&res, f)
		}
	}

	if resolved == 0 {
		return poc.LoadResult{}, sharedErrors.NewConfigError("pocFile", firstErr)
	}
	return res, nil
}

// LoadFile loads a single definition. Failures are *errors.LoadError.
func (l *Loader) LoadFile(path string) (*poc.Module, error) {
	ext := filepath.Ext(path)
	format, ok := FormatForExt(ext)
	if !ok {
		return nil, &sharedErrors.LoadError{Path: path, Err: fmt.Errorf("unsupported file extension %q", ext)}
	}

	data, err := os.ReadFile(path) // #nosec G304 -- definition paths are supplied by the operator.
	if err != nil {
		return nil, &sharedErrors.LoadError{Path: path, Err: err}
	}

	def, err := ParseDefinition(data, format)
	if err != nil {
		return nil, &sharedErrors.LoadError{Path: path, Err: err}
	}

	id := strings.TrimSuffix(filepath.Base(path), ext)
	m, err := def.Build(id, path, filepath.Dir(path))
	if err != nil {
		return nil, &sharedErrors.LoadError{Path: path, Err: err}
	}
	return m, nil
}

func (l *Loader) loadInto(res *poc.LoadResult, path string) {
	m, err := l.LoadFile(path)
	if err != nil {
		res.Reject(path, err)
		return
	}
	if err := m.Validate(); err != nil {
		res.Reject(path, &sharedErrors.LoadError{Path: path, Err: err})
		return
	}
	if res.Add(m) {
		l.logger.Debug("module_loaded",
			zap.String("id", m.ID),
			zap.String("path", path),
			zap.String("capabilities", m.Capabilities.String()),
		)
	}
}

func (l *Loader) fromCatalog(id string) (*poc.Module, bool) {
	if l.catalog == nil {
		return nil, false
	}
	return l.catalog.Get(id)
}

// collect lists definition files under dir in lexical order. Hidden entries
// and entries starting with "_" are ignored.
func collect(dir string, recursive bool) ([]string, error) {
	var files []string

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || ignored(e.Name()) {
				continue
			}
			if _, ok := FormatForExt(filepath.Ext(e.Name())); ok {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(files)
		return files, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path != dir && ignored(d.Name()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := FormatForExt(filepath.Ext(path)); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		return nil, err
	}
	return files, nil
}

func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

func splitEntries(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
