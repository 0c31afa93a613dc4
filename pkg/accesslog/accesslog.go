// Package accesslog provides the append-only relay access log (written
// by the relay, C4) and its parser/aggregator (read by the observability
// API, C6). The line format is plain text, not JSON-lines, matching the
// original web/logparser.py's expectations exactly:
//
//	YYYY-MM-DD HH:MM:SS,mmm ; <level> ; <source> ; <EVENT>
//
// Grounded on the teacher's pkg/audit/logger.go for the rotating-writer
// shape (mutex-guarded *os.File, size-triggered rename-and-reopen
// rotation, bounded backup retention) but rendered in the plain-text
// line format the original relay and web dashboard share, rather than
// JSON events — VLAB's access log is a human-auditable text stream, not
// a structured audit trail.
package accesslog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeBytes int64
	MaxBackups   int
}

// Writer appends access-log lines and rotates the file once it exceeds
// RotationConfig.MaxSizeBytes.
type Writer struct {
	path     string
	file     *os.File
	mu       sync.Mutex
	rotation RotationConfig
}

// NewWriter opens (creating if needed) the access log at path for
// append.
func NewWriter(path string, rotation RotationConfig) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating access log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening access log: %w", err)
	}
	return &Writer{path: path, file: file, rotation: rotation}, nil
}

// Level names used in access-log lines.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARNING"
	LevelError = "ERROR"
	LevelDebug = "DEBUG"
)

// Log writes one access-log line at the given level, from source (the
// relay component name), formatting event/args as "EVENT: args".
func (w *Writer) Log(level, source, event, args string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.rotation.MaxSizeBytes > 0 {
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.rotation.MaxSizeBytes {
			if err := w.rotate(); err != nil {
				return fmt.Errorf("rotating access log: %w", err)
			}
		}
	}

	ts := time.Now().Format("2006-01-02 15:04:05,000")
	line := fmt.Sprintf("%s ; %s ; %s ; %s: %s\n", ts, level, source, event, args)
	_, err := w.file.WriteString(line)
	return err
}

// Start logs the START event for a session.
func (w *Writer) Start(source, user, class, serial string) error {
	return w.Log(LevelInfo, source, "START", fmt.Sprintf("%s, %s:%s", user, class, serial))
}

// Lock logs the LOCK event, including the remaining-in-set count.
func (w *Writer) Lock(source, user, class, serial string, remaining int) error {
	return w.Log(LevelInfo, source, "LOCK", fmt.Sprintf("%s, %s:%s, %d remaining in set", user, class, serial, remaining))
}

// Release logs the RELEASE event.
func (w *Writer) Release(source, user, class, serial string) error {
	return w.Log(LevelInfo, source, "RELEASE", fmt.Sprintf("%s, %s:%s", user, class, serial))
}

// End logs the END event.
func (w *Writer) End(source, user, class, serial string) error {
	return w.Log(LevelInfo, source, "END", fmt.Sprintf("%s, %s:%s", user, class, serial))
}

// NoFreeBoards logs the NOFREEBOARDS denial event.
func (w *Writer) NoFreeBoards(source, user, class string) error {
	return w.Log(LevelWarn, source, "NOFREEBOARDS", fmt.Sprintf("%s, %s", user, class))
}

// Ping logs a keep-alive PING event at debug level.
func (w *Writer) Ping(source, user, class, serial string) error {
	return w.Log(LevelDebug, source, "PING", fmt.Sprintf("%s, %s:%s", user, class, serial))
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	rotatedPath := w.path + "." + timestamp
	if err := os.Rename(w.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = file

	if w.rotation.MaxBackups > 0 {
		w.cleanupOldFiles()
	}
	return nil
}

func (w *Writer) cleanupOldFiles() {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{p, info.ModTime()})
	}

	if len(files) > w.rotation.MaxBackups {
		sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
		toRemove := len(files) - w.rotation.MaxBackups
		for i := 0; i < toRemove; i++ {
			os.Remove(files[i].path)
		}
	}
}

// readLines is a small helper shared by the parser to stream a file
// without loading it wholesale.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
