//go:build linux

package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ringwal/ringwal/pkg/config"
	"github.com/ringwal/ringwal/pkg/record"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig(filepath.Join(dir, "primary.wal"), filepath.Join(dir, "secondary.wal"))
	// tmpfs and most CI filesystems reject O_DIRECT; the fallback path is
	// exercised separately in TestOpenFallsBackWhenDirectIOUnsupported.
	cfg.DirectIO = false
	cfg.RingEntries = 32
	return cfg
}

func TestAppendAssignsMonotonicSequences(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	payloads := [][]byte{[]byte("Hello, WAL!"), []byte("This is record 2"), []byte("Final")}
	var seqs []uint64
	for _, p := range payloads {
		seq, err := w.Append(p)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		seqs = append(seqs, seq)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Errorf("payload %d got sequence %d, want %d", i, seq, i+1)
		}
	}
}

func TestReopenReplaysDurableRecords(t *testing.T) {
	cfg := testConfig(t)

	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payloads := []string{"Hello, WAL!", "This is record 2", "Final"}
	for _, p := range payloads {
		if _, err := w.Append([]byte(p)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var got []string
	var seqs []uint64
	err = reopened.Replay(func(sequence uint64, payload []byte) error {
		seqs = append(seqs, sequence)
		got = append(got, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != len(payloads) {
		t.Fatalf("got %d records, want %d", len(got), len(payloads))
	}
	for i, p := range payloads {
		if seqs[i] != uint64(i+1) {
			t.Errorf("record %d sequence = %d, want %d", i, seqs[i], i+1)
		}
		if got[i] != p {
			t.Errorf("record %d payload = %q, want %q", i, got[i], p)
		}
	}
}

func TestAppendBatchReturnsStartSequence(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Append([]byte("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	start, err := w.AppendBatch([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	if err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if start != 2 {
		t.Errorf("AppendBatch start = %d, want 2", start)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats := w.Stats()
	if stats.Completed != 4 {
		t.Errorf("Stats().Completed = %d, want 4", stats.Completed)
	}
}

func TestRecoveryToleratesCorruptedPrimaryCopy(t *testing.T) {
	cfg := testConfig(t)

	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payloads := []string{"a", "b", "c"}
	for _, p := range payloads {
		if _, err := w.Append([]byte(p)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Corrupt sequence 2's checksum field in the primary only; the secondary
	// copy is intact.
	f, err := os.OpenFile(cfg.PrimaryPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	recordOffset := int64(record.PaddedSize(len("a")))
	if _, err := f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, recordOffset+16); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}
	f.Close()

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var got []string
	err = reopened.Replay(func(sequence uint64, payload []byte) error {
		got = append(got, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) < 2 || got[1] != "b" {
		t.Fatalf("expected sequence 2 to recover as \"b\" from the secondary, got %v", got)
	}
}

func TestVerifyAfterSyncRoundTrips(t *testing.T) {
	cfg := testConfig(t)
	cfg.VerifyAfterSync = true

	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := w.Append([]byte("verified record")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush with verification enabled: %v", err)
	}

	stats := w.Stats()
	if stats.Completed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats after verified flush: %+v", stats)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := w.Append([]byte("too late")); err == nil {
		t.Fatal("expected Append after Close to fail")
	}
}

func TestOpenFallsBackWhenDirectIOUnsupported(t *testing.T) {
	// Most test filesystems (tmpfs, overlayfs without direct-IO support)
	// reject O_DIRECT with EINVAL. Open must not fail in that case; it
	// should fall back to O_DSYNC-only and log the fallback.
	cfg := testConfig(t)
	cfg.DirectIO = true

	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open should fall back rather than fail: %v", err)
	}
	defer w.Close()

	if _, err := w.Append([]byte("fallback works")); err != nil {
		t.Fatalf("Append after fallback: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush after fallback: %v", err)
	}
}

func TestEncodedBytesMatchExactLayout(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	w.Close()

	want, err := record.Encode(1, []byte("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got := make([]byte, len(want))
	f, err := os.Open(cfg.PrimaryPath)
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	defer f.Close()
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("read primary: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("on-disk bytes differ from record.Encode's output:\ngot  %x\nwant %x", got, want)
	}
}
