package syslogd

import (
	"fmt"
	"os"
	"sync"

	"nascert/pkg/logging"
)

// Capture serializes records from all listener goroutines into a single
// append-only file. UDP and TCP handlers write concurrently; the writer
// lock keeps lines from interleaving.
type Capture struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	count  int
	closed bool
}

// NewCapture creates (or truncates) the capture file. The file is made
// world-readable and chowned to uid:gid so it stays accessible after a
// root-privileged run; a chown failure is logged, not fatal.
func NewCapture(path string, uid, gid int) (*Capture, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating capture file: %w", err)
	}
	if uid != 0 || gid != 0 {
		if err := file.Chown(uid, gid); err != nil {
			logging.Warn("Syslog", "failed to chown capture file %s: %v", path, err)
		}
	}
	return &Capture{file: file, path: path}, nil
}

// Handle appends one record to the capture file. Records arriving after
// Close are logged and dropped; Count covers persisted records only, so
// a summary built from it never overstates what the file contains.
func (c *Capture) Handle(rec Record) {
	line := fmt.Sprintf("[%s] %s %s [%s.%s] %s\n",
		rec.ReceivedAt.Format("2006-01-02 15:04:05.000"),
		rec.Transport, rec.Source, rec.Facility, rec.Severity, rec.Body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		logging.Warn("Syslog", "record received after capture close, dropped: %s", rec.Body)
		return
	}
	if _, err := c.file.WriteString(line); err != nil {
		logging.Error("Syslog", err, "failed to write capture record")
		return
	}
	c.count++
}

// Count returns how many records have been written to the file so far.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Path returns the capture file path.
func (c *Capture) Path() string {
	return c.path
}

// Close flushes and closes the capture file. The summary a caller logs or
// reports must come only after Close has returned.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.file.Sync(); err != nil {
		c.file.Close()
		return fmt.Errorf("flushing capture file: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("closing capture file: %w", err)
	}
	logging.Info("Syslog", "capture closed: %d records written to %s", c.count, c.path)
	return nil
}
