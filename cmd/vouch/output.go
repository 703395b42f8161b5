package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/vouch"
)

// header names the columns written by writeRecord.
const header = "stat  rev  all   v-dl    all-dl own  iss  lines latest   flags path owners"

// lineFormatter renders verification results one line per dependency.
type lineFormatter struct {
	verbose bool
	home    string
}

func newLineFormatter(verbose bool) lineFormatter {
	home, _ := os.UserHomeDir() //nolint:errcheck // no home means no shortening
	return lineFormatter{verbose: verbose, home: home}
}

// record formats a completed verification.
func (f lineFormatter) record(rec *vouch.VerificationRecord) string {
	cols := []string{
		rec.Verification.Glyph(),
		fmt.Sprintf("%3d %4d", rec.Reviews.Version, rec.Reviews.Total),
	}

	if dl, ok := rec.Downloads.Get(); ok {
		cols = append(cols, fmt.Sprintf("%6d %9d", dl.Version, dl.Total))
	} else {
		cols = append(cols, fmt.Sprintf("%6s %9s", "err", "err"))
	}

	if own, ok := rec.Owners.Get(); ok {
		cols = append(cols, fmt.Sprintf("%3s", fmt.Sprintf("%d/%d", own.Trusted, own.Total)))
	} else {
		cols = append(cols, fmt.Sprintf("%3s", "err"))
	}

	cols = append(cols, fmt.Sprintf("%4s", fmt.Sprintf("%d/%d", rec.Issues.Trusted, rec.Issues.Total)))

	if n, ok := rec.SourceLines.Get(); ok {
		cols = append(cols, fmt.Sprintf("%6d", n))
	} else {
		cols = append(cols, fmt.Sprintf("%6s", "err"))
	}

	cols = append(cols, fmt.Sprintf("%-8s", rec.LatestTrustedVersion.OrElse("-")), flags(rec))
	if f.verbose {
		cols = append(cols, rec.Digest.String())
	}
	cols = append(cols, f.shorten(rec.Root))
	if len(rec.OwnerNames) > 0 {
		cols = append(cols, strings.Join(rec.OwnerNames, ", "))
	}
	return strings.Join(cols, " ")
}

// status formats a dependency that did not produce a record.
func (f lineFormatter) status(dep *vouch.Dependency) string {
	switch dep.Status.State {
	case vouch.StateSkipped:
		return fmt.Sprintf("skip %s (%s) %s", dep.ID, dep.Status.Skip, f.shorten(dep.Root))
	case vouch.StateFailed:
		return fmt.Sprintf("fail %s %s: %v", dep.ID, f.shorten(dep.Root), dep.Status.Err)
	default:
		return fmt.Sprintf("%-4s %s %s", dep.Status.State, dep.ID, f.shorten(dep.Root))
	}
}

func (f lineFormatter) write(w io.Writer, dep *vouch.Dependency) {
	if dep.Status.State == vouch.StateOK && dep.Status.Record != nil {
		fmt.Fprintln(w, f.record(dep.Status.Record))
		return
	}
	fmt.Fprintln(w, f.status(dep))
}

// flags marks an unclean digest with U and a custom build with B.
func flags(rec *vouch.VerificationRecord) string {
	var b strings.Builder
	if rec.UncleanDigest {
		b.WriteByte('U')
	}
	if rec.HasCustomBuild {
		b.WriteByte('B')
	}
	if b.Len() == 0 {
		return fmt.Sprintf("%-5s", "-")
	}
	return fmt.Sprintf("%-5s", b.String())
}

// shorten replaces the home directory prefix of path with "~".
func (f lineFormatter) shorten(path string) string {
	if f.home == "" {
		return path
	}
	rel, err := filepath.Rel(f.home, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	if rel == "." {
		return "~"
	}
	return filepath.Join("~", rel)
}
