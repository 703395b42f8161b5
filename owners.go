package vouch

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// LoadKnownOwners reads a known owners file: one registry login per line,
// blank lines and lines starting with '#' ignored. A missing file yields
// an empty list.
func LoadKnownOwners(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator configuration
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("open known owners", path, err)
	}
	defer f.Close()

	owners, err := ParseKnownOwners(f)
	if err != nil {
		return nil, ioErr("read known owners", path, err)
	}
	return owners, nil
}

// ParseKnownOwners parses the known owners format from r.
func ParseKnownOwners(r io.Reader) ([]string, error) {
	var owners []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		owners = append(owners, line)
	}
	return owners, sc.Err()
}
