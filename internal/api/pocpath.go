package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
	"github.com/khanhnv2901/poc-cli/internal/shared/security"
)

// ErrPocOutsideRoot rejects a client-supplied POC entry that names a path
// the server did not expose.
var ErrPocOutsideRoot = errors.New("poc entry outside the server's module directory")

// scopePocPath confines every comma-separated entry of raw to root. An
// empty raw selects root itself. Without a root only bare module IDs are
// accepted, so clients can pick registered modules but never files.
func scopePocPath(root, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return root, nil
	}

	var scoped []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if root == "" {
			if entry == "." || entry == ".." || filepath.IsAbs(entry) || strings.ContainsAny(entry, `/\`) {
				return "", sharedErrors.NewConfigError("pocFile", fmt.Errorf("%w: %q", ErrPocOutsideRoot, entry))
			}
			scoped = append(scoped, entry)
			continue
		}
		path, err := security.ResolveWithin(root, entry)
		if err != nil {
			return "", sharedErrors.NewConfigError("pocFile", fmt.Errorf("%w: %v", ErrPocOutsideRoot, err))
		}
		scoped = append(scoped, path)
	}
	return strings.Join(scoped, ","), nil
}
