package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

var log = logging.L("audit")

// Event types recorded in the journal.
const (
	EventMonitorStart  = "monitor_start"
	EventMonitorStop   = "monitor_stop"
	EventPortDisabled  = "port_disabled"
	EventStatusChange  = "status_change"
	EventScanError     = "scan_error"
	EventScanRecovered = "scan_recovered"
	EventLogRotated    = "log_rotated"
)

const genesisHash = "genesis"

// criticalEvents are fsynced after writing.
var criticalEvents = map[string]bool{
	EventMonitorStart: true,
	EventMonitorStop:  true,
	EventPortDisabled: true,
}

// Entry is a single journal record.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	Port      string         `json:"port,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Logger writes a tamper-evident JSONL journal with a SHA-256 hash chain.
// On rotation a sentinel entry (EventLogRotated) opens the new file, linked
// to the last entry of the old one.
type Logger struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
	now        func() time.Time
}

// NewLogger opens (or appends to) the journal at path.
func NewLogger(path string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	l := &Logger{
		filePath:   path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		prevHash:   genesisHash,
		now:        time.Now,
	}
	if last, err := lastHash(path); err == nil && last != "" {
		l.prevHash = last
	}
	if err := l.openFile(); err != nil {
		return nil, err
	}

	log.Info("audit journal opened", "path", path)
	return l, nil
}

// Log appends one entry. The chain only advances after a successful write,
// so a failed write leaves no gap. Safe on a nil receiver.
func (l *Logger) Log(eventType, port string, details map[string]any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Port:      port,
		Details:   details,
		PrevHash:  l.prevHash,
	}
	if err := l.writeLocked(entry, true); err != nil {
		log.Error("failed to write audit entry", logging.KeyError, err, "eventType", eventType)
		l.dropped.Add(1)
		return
	}

	if criticalEvents[eventType] {
		if err := l.file.Sync(); err != nil {
			log.Error("failed to fsync audit entry", logging.KeyError, err, "eventType", eventType)
		}
	}
}

// writeLocked hashes and appends entry. With rotate set, a write that would
// overflow the file rotates first and relinks entry to the sentinel.
func (l *Logger) writeLocked(entry Entry, rotate bool) error {
	hash, err := computeHash(entry)
	if err != nil {
		return err
	}
	entry.EntryHash = hash

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if rotate && l.written > 0 && l.written+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		entry.PrevHash = l.prevHash
		return l.writeLocked(entry, false)
	}

	n, err := l.file.Write(data)
	if err != nil {
		return err
	}
	l.written += int64(n)
	l.prevHash = entry.EntryHash
	return nil
}

// Close closes the journal file. Safe on a nil receiver.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// DroppedCount returns how many entries failed to write, or -1 on a nil
// logger.
func (l *Logger) DroppedCount() int64 {
	if l == nil {
		return -1
	}
	return l.dropped.Load()
}

// computeHash length-prefixes every field so no two field combinations
// serialise to the same bytes.
func computeHash(entry Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{entry.Timestamp, entry.EventType, entry.Port, entry.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(b))
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = f
	l.written = info.Size()
	return nil
}

func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
	}

	for i := l.maxBackups; i >= 2; i-- {
		src, dst := l.backupName(i-1), l.backupName(i)
		if i == l.maxBackups {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				log.Warn("audit rotation: failed to remove oldest backup", "path", dst, logging.KeyError, err)
			}
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Warn("audit rotation: failed to rename backup", "src", src, "dst", dst, logging.KeyError, err)
		}
	}
	if err := os.Rename(l.filePath, l.backupName(1)); err != nil && !os.IsNotExist(err) {
		log.Warn("audit rotation: failed to rename current log", logging.KeyError, err)
	}

	if err := l.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		Details:   map[string]any{"previousFile": l.backupName(1)},
		PrevHash:  l.prevHash,
	}
	return l.writeLocked(sentinel, false)
}

func (l *Logger) backupName(index int) string {
	if index == 0 {
		return l.filePath
	}
	return fmt.Sprintf("%s.%d", l.filePath, index)
}

// lastHash returns the entry hash of the last record in path so a reopened
// journal continues its chain.
func lastHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil && e.EntryHash != "" {
			last = e.EntryHash
		}
	}
	return last, sc.Err()
}

// VerifyFile checks the hash chain of one journal file and returns the number
// of entries. The first entry may link to anything (genesis or a rotated
// predecessor); every later entry must link to the one before it.
func VerifyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	prev := ""
	for sc.Scan() {
		n++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return n, fmt.Errorf("line %d: %w", n, err)
		}
		want, err := computeHash(e)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n, err)
		}
		if e.EntryHash != want {
			return n, fmt.Errorf("line %d: entry hash mismatch", n)
		}
		if n > 1 && e.PrevHash != prev {
			return n, fmt.Errorf("line %d: chain broken", n)
		}
		prev = e.EntryHash
	}
	return n, sc.Err()
}
