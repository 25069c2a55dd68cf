package capture

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// jpegDataURIPrefix is stripped from inbound payloads before decoding.
const jpegDataURIPrefix = "data:image/jpeg;base64,"

const (
	filenamePrefix = "capture-"
	filenameSuffix = ".jpg"
)

var (
	// ErrInvalidPayload is returned when a payload is not valid base64.
	ErrInvalidPayload = errors.New("capture: invalid image payload")
)

// Record describes one stored capture.
type Record struct {
	Filename   string
	Timestamp  string // CapturedAt formatted for display in the store's zone
	CapturedAt time.Time
	Size       int64
	Digest     string // BLAKE3-256, hex
	SenderID   string
}

// Recorder is notified of every capture written to disk.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Options configure a Store.
type Options struct {
	Dir             string
	Location        *time.Location // defaults to time.Local
	TimestampLayout string         // defaults to "2006/01/02 15:04:05"
	Recorder        Recorder       // optional
	Now             func() time.Time
}

// Store writes captured images into a flat directory as
// capture-<unixMillis>.jpg. Two saves within the same millisecond share a
// filename and the later one replaces the earlier.
type Store struct {
	dir      string
	loc      *time.Location
	layout   string
	recorder Recorder

	nowFunc func() time.Time
}

// New creates the captures directory if needed and returns a Store rooted there.
func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("capture: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create directory: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	layout := opts.TimestampLayout
	if layout == "" {
		layout = "2006/01/02 15:04:05"
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		dir:      opts.Dir,
		loc:      loc,
		layout:   layout,
		recorder: opts.Recorder,
		nowFunc:  now,
	}, nil
}

// Dir returns the captures directory.
func (s *Store) Dir() string {
	return s.dir
}

// Filename returns the capture filename for t.
func Filename(t time.Time) string {
	return filenamePrefix + strconv.FormatInt(t.UnixMilli(), 10) + filenameSuffix
}

// ValidName reports whether name is a plain capture filename produced by Filename.
func ValidName(name string) bool {
	if name != filepath.Base(name) {
		return false
	}
	if !strings.HasPrefix(name, filenamePrefix) || !strings.HasSuffix(name, filenameSuffix) {
		return false
	}
	millis := strings.TrimSuffix(strings.TrimPrefix(name, filenamePrefix), filenameSuffix)
	if millis == "" {
		return false
	}
	_, err := strconv.ParseInt(millis, 10, 64)
	return err == nil
}

// Path returns the on-disk location of a stored capture.
func (s *Store) Path(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("capture: invalid filename %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Decode converts a wire payload to raw bytes. A leading JPEG data-URI
// prefix is stripped; whitespace and missing padding are tolerated. An empty
// payload decodes to zero bytes and is stored as an empty capture.
func Decode(encoded string) ([]byte, error) {
	payload := strings.TrimPrefix(strings.TrimSpace(encoded), jpegDataURIPrefix)
	payload = strings.Join(strings.Fields(payload), "")
	payload = strings.TrimRight(payload, "=")
	if payload == "" {
		return []byte{}, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		var urlErr error
		data, urlErr = base64.RawURLEncoding.DecodeString(payload)
		if urlErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return data, nil
}

// Save decodes encoded and writes it to the captures directory. The file
// appears under its final name only once fully written.
func (s *Store) Save(ctx context.Context, senderID, encoded string) (Record, error) {
	data, err := Decode(encoded)
	if err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	now := s.nowFunc()
	name := Filename(now)
	if err := s.write(name, data); err != nil {
		return Record{}, err
	}

	sum := blake3.Sum256(data)
	rec := Record{
		Filename:   name,
		Timestamp:  now.In(s.loc).Format(s.layout),
		CapturedAt: now,
		Size:       int64(len(data)),
		Digest:     hex.EncodeToString(sum[:]),
		SenderID:   senderID,
	}

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, rec); err != nil {
			log.Printf("[Capture] index %s: %v", name, err)
		}
	}
	return rec, nil
}

func (s *Store) write(name string, data []byte) (err error) {
	tmp, err := os.CreateTemp(s.dir, ".capture-*.tmp")
	if err != nil {
		return fmt.Errorf("capture: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("capture: write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("capture: sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("capture: close %s: %w", name, err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("capture: chmod %s: %w", name, err)
	}
	if err = os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("capture: rename %s: %w", name, err)
	}
	return nil
}
