package target

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Resolution is the ordered target set plus diagnostics about skipped input.
type Resolution struct {
	Targets []Target
	// Skipped counts blank, comment and invalid lines of the target file.
	Skipped int
	// Invalid holds the raw lines that failed validation.
	Invalid []string
}

// Resolve expands a single URL and/or a line-delimited file into an ordered,
// deduplicated target set. The URL comes first, then file lines in order.
// Supplying neither, an invalid single URL, an unreadable file, or input
// that yields no valid target returns a *errors.ConfigError.
func Resolve(rawURL, file string) (Resolution, error) {
	rawURL = strings.TrimSpace(rawURL)
	file = strings.TrimSpace(file)
	if rawURL == "" && file == "" {
		return Resolution{}, sharedErrors.NewConfigError("url", fmt.Errorf("%w: supply --url or --file", sharedErrors.ErrNoTargets))
	}

	set := NewSet()
	var res Resolution

	if rawURL != "" {
		t, err := Parse(rawURL)
		if err != nil {
			return Resolution{}, sharedErrors.NewConfigError("url", err)
		}
		set.Add(t)
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return Resolution{}, sharedErrors.NewConfigError("urlFile", err)
		}
		defer f.Close()

		if err := readLines(f, set, &res); err != nil {
			return Resolution{}, sharedErrors.NewConfigError("urlFile", err)
		}
	}

	if set.Len() == 0 {
		return Resolution{}, sharedErrors.NewConfigError("urlFile", sharedErrors.ErrNoTargets)
	}

	res.Targets = set.Items()
	return res, nil
}

// ResolveReader reads targets from r using the same rules as a target file.
func ResolveReader(r io.Reader) (Resolution, error) {
	set := NewSet()
	var res Resolution
	if err := readLines(r, set, &res); err != nil {
		return Resolution{}, err
	}
	res.Targets = set.Items()
	return res, nil
}

func readLines(r io.Reader, set *Set, res *Resolution) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			res.Skipped++
			continue
		}
		t, err := Parse(line)
		if err != nil {
			res.Skipped++
			res.Invalid = append(res.Invalid, line)
			continue
		}
		set.Add(t)
	}
	return scanner.Err()
}
