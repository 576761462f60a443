package mount

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Entry is one line of the live kernel mount table.
type Entry struct {
	Device  string
	Path    string
	Type    string
	Options string
}

// HasOption reports whether the entry's option list contains the exact
// option, e.g. "proto=tcp" or "ro".
func (e Entry) HasOption(opt string) bool {
	for _, o := range strings.Split(e.Options, ",") {
		if o == opt {
			return true
		}
	}
	return false
}

// Mounts parses the mount table at the given path (normally /proc/mounts).
func Mounts(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		entries = append(entries, Entry{
			Device:  fields[0],
			Path:    fields[1],
			Type:    fields[2],
			Options: fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}
	return entries, nil
}

// FindEntry returns the mount table entry for the exact mount point path,
// or false if the path is not mounted.
func FindEntry(tablePath, mountPoint string) (Entry, bool, error) {
	entries, err := Mounts(tablePath)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Path == mountPoint {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}
