package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileLoggerOptions configures the file-based audit logger
type FileLoggerOptions struct {
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size"`    // rotate when the log exceeds this size
	MaxBackups int    `json:"max_backups"` // rotated files to keep
}

// FileLogger appends audit events as JSON lines to a local file. Writes are
// serialized with a mutex; rotation renames the active file aside and starts
// a fresh one.
type FileLogger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	size    int64
	maxSize int64
	backups int
}

// NewFileLogger creates a file logger from audit configuration
func NewFileLogger(config *Config) (*FileLogger, error) {
	opts := FileLoggerOptions{
		FilePath:   "audit.log",
		MaxSizeMB:  100,
		MaxBackups: 5,
	}
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid file audit options: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat audit log: %w", err)
	}

	return &FileLogger{
		path:    opts.FilePath,
		file:    file,
		size:    info.Size(),
		maxSize: int64(opts.MaxSizeMB) * 1024 * 1024,
		backups: opts.MaxBackups,
	}, nil
}

// Log appends one audit event
func (f *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}

	// Promote well-known metadata keys to event fields
	if metadata != nil {
		if v, ok := metadata["snapshot_path"].(string); ok {
			event.SnapshotPath = v
		}
		if v, ok := metadata["vault_name"].(string); ok {
			event.VaultName = v
		}
		if v, ok := metadata["peer_id"].(string); ok {
			event.PeerID = v
		}
		if v, ok := metadata["error"].(string); ok {
			event.Error = v
		}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxSize > 0 && f.size+int64(len(line)) > f.maxSize {
		if err = f.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	n, err := f.file.Write(line)
	f.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// rotate must be called with the mutex held
func (f *FileLogger) rotate() error {
	if err := f.file.Close(); err != nil {
		return err
	}

	// Shift rotated files up, dropping the oldest
	for i := f.backups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", f.path, i)
		to := fmt.Sprintf("%s.%d", f.path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	if err := os.Rename(f.path, f.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	f.file = file
	f.size = 0
	return nil
}

// Query scans the active log file and returns matching events
func (f *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return QueryResult{Events: []Event{}}, nil
		}
		return QueryResult{}, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var matched []Event
	total := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++

		var event Event
		if err = json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines rather than failing the query
		}
		if !matches(event, options) {
			continue
		}
		matched = append(matched, event)
	}
	if err = scanner.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("failed to scan audit log: %w", err)
	}

	filtered := len(matched)

	// Apply offset/limit
	if options.Offset > 0 {
		if options.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[options.Offset:]
		}
	}
	hasMore := false
	if options.Limit > 0 && len(matched) > options.Limit {
		matched = matched[:options.Limit]
		hasMore = true
	}
	if matched == nil {
		matched = []Event{}
	}

	return QueryResult{
		Events:     matched,
		TotalCount: total,
		Filtered:   filtered,
		HasMore:    hasMore,
	}, nil
}

func matches(event Event, options QueryOptions) bool {
	if options.SnapshotPath != "" && event.SnapshotPath != options.SnapshotPath {
		return false
	}
	if options.Action != "" && event.Action != options.Action {
		return false
	}
	if options.PeerID != "" && event.PeerID != options.PeerID {
		return false
	}
	if options.Success != nil && event.Success != *options.Success {
		return false
	}
	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}
	return true
}

// Close flushes and closes the active log file
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
