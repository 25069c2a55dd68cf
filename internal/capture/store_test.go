package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorderStub struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (r *recorderStub) Record(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func newTestStore(t *testing.T, at time.Time) *Store {
	t.Helper()
	store, err := New(Options{Dir: filepath.Join(t.TempDir(), "captures"), Location: time.UTC})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	store.nowFunc = func() time.Time { return at }
	return store
}

func TestNewRequiresDirectory(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "captures")
	store, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("Dir() = %s, want %s", store.Dir(), dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("captures directory not created: %v", err)
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	if got := Filename(time.UnixMilli(1000)); got != "capture-1000.jpg" {
		t.Fatalf("Filename(1000ms) = %s, want capture-1000.jpg", got)
	}
	a := Filename(time.UnixMilli(1700000000000))
	b := Filename(time.UnixMilli(1700000000001))
	if a == b {
		t.Fatalf("distinct times produced the same filename %s", a)
	}
}

func TestValidName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{name: "capture-1000.jpg", want: true},
		{name: "capture-1700000000000.jpg", want: true},
		{name: "capture-.jpg", want: false},
		{name: "capture-abc.jpg", want: false},
		{name: "capture-1000.png", want: false},
		{name: "../capture-1000.jpg", want: false},
		{name: "sub/capture-1000.jpg", want: false},
		{name: ".capture-123.tmp", want: false},
		{name: "", want: false},
	}

	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	std := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr error
	}{
		{name: "data uri", in: "data:image/jpeg;base64,AAA=", want: []byte{0, 0}},
		{name: "raw base64", in: std, want: raw},
		{name: "data uri with jpeg bytes", in: jpegDataURIPrefix + std, want: raw},
		{name: "missing padding", in: "AAA", want: []byte{0, 0}},
		{name: "embedded newlines", in: std[:4] + "\n" + std[4:], want: raw},
		{name: "url alphabet", in: base64.RawURLEncoding.EncodeToString([]byte{0xfb, 0xff}), want: []byte{0xfb, 0xff}},
		{name: "empty", in: "", want: []byte{}},
		{name: "prefix only", in: jpegDataURIPrefix, want: []byte{}},
		{name: "garbage", in: "!!!not base64!!!", wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) error: %v", tt.in, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("Decode(%q) = %x, want %x", tt.in, got, tt.want)
			}
		})
	}
}

func TestSaveWritesDecodedBytes(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1000)
	store := newTestStore(t, at)

	rec, err := store.Save(context.Background(), "peer-b", "data:image/jpeg;base64,AAA=")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if rec.Filename != "capture-1000.jpg" {
		t.Fatalf("Filename = %s, want capture-1000.jpg", rec.Filename)
	}
	if rec.Size != 2 {
		t.Errorf("Size = %d, want 2", rec.Size)
	}
	if rec.SenderID != "peer-b" {
		t.Errorf("SenderID = %s, want peer-b", rec.SenderID)
	}
	if len(rec.Digest) != 64 {
		t.Errorf("Digest length = %d, want 64", len(rec.Digest))
	}
	if want := at.In(time.UTC).Format("2006/01/02 15:04:05"); rec.Timestamp != want {
		t.Errorf("Timestamp = %q, want %q", rec.Timestamp, want)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), "capture-1000.jpg"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if !bytes.Equal(data, []byte{0, 0}) {
		t.Fatalf("file contents = %x, want 0000", data)
	}
}

func TestSaveEmptyPayloadWritesEmptyCapture(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{"", jpegDataURIPrefix} {
		store := newTestStore(t, time.UnixMilli(7))
		rec, err := store.Save(context.Background(), "peer", payload)
		if err != nil {
			t.Fatalf("Save(%q) error: %v", payload, err)
		}
		if rec.Filename != "capture-7.jpg" || rec.Size != 0 {
			t.Fatalf("Save(%q) = %+v, want empty capture-7.jpg", payload, rec)
		}
		info, err := os.Stat(filepath.Join(store.Dir(), "capture-7.jpg"))
		if err != nil {
			t.Fatalf("stat capture: %v", err)
		}
		if info.Size() != 0 {
			t.Fatalf("file size = %d, want 0", info.Size())
		}
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(42))
	if _, err := store.Save(context.Background(), "peer", "AAA="); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "capture-42.jpg" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory contents = %v, want [capture-42.jpg]", names)
	}
}

func TestSaveSameMillisecondOverwrites(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(5000))
	first := base64.StdEncoding.EncodeToString([]byte("first"))
	second := base64.StdEncoding.EncodeToString([]byte("second"))

	if _, err := store.Save(context.Background(), "peer", first); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	if _, err := store.Save(context.Background(), "peer", second); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), "capture-5000.jpg"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("contents = %q, want second", data)
	}
}

func TestSaveDistinctTimesDistinctFiles(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(1))
	var names []string
	for _, ms := range []int64{1000, 1001} {
		store.nowFunc = func() time.Time { return time.UnixMilli(ms) }
		rec, err := store.Save(context.Background(), "peer", "AAA=")
		if err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		names = append(names, rec.Filename)
	}
	if names[0] == names[1] {
		t.Fatalf("expected distinct filenames, got %v", names)
	}
}

func TestSaveRejectsInvalidPayloadBeforeWriting(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(7))
	if _, err := store.Save(context.Background(), "peer", "%%%"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("Save() error = %v, want ErrInvalidPayload", err)
	}

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected no files after rejected save, found %d", len(entries))
	}
}

func TestSaveReportsWriteFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(9))
	if err := os.RemoveAll(store.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	_, err := store.Save(context.Background(), "peer", "AAA=")
	if err == nil {
		t.Fatal("expected error when captures directory is missing")
	}
	if !strings.Contains(err.Error(), "capture:") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(11))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Save(ctx, "peer", "AAA="); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save() error = %v, want context.Canceled", err)
	}
}

func TestSaveNotifiesRecorder(t *testing.T) {
	t.Parallel()

	rec := &recorderStub{err: errors.New("index unavailable")}
	store, err := New(Options{Dir: t.TempDir(), Recorder: rec})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	store.nowFunc = func() time.Time { return time.UnixMilli(77) }

	// A recorder failure is logged; the save itself succeeds.
	got, err := store.Save(context.Background(), "peer", "AAA=")
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 1 || rec.records[0].Filename != got.Filename {
		t.Fatalf("recorder saw %+v, want one record for %s", rec.records, got.Filename)
	}
}

func TestPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, time.UnixMilli(1))
	path, err := store.Path("capture-1.jpg")
	if err != nil {
		t.Fatalf("Path() error: %v", err)
	}
	if path != filepath.Join(store.Dir(), "capture-1.jpg") {
		t.Errorf("Path() = %s", path)
	}
	if _, err := store.Path("../etc/passwd"); err == nil {
		t.Fatal("expected error for traversal name")
	}
}
