// crashtest exercises ringwal's crash-durability guarantee end to end: a
// child process appends records, flushing them in batches of 50, and exits
// without calling Close; the parent reopens the logs and verifies every
// flushed record survived.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ringwal/ringwal/pkg/config"
	"github.com/ringwal/ringwal/pkg/version"
	"github.com/ringwal/ringwal/pkg/wal"
)

const recordCount = 500

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		info := version.GetInfo()
		fmt.Printf("crashtest %s (format %s)\n", version.GetFullVersion(), info.OnDiskFormat)
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "write-and-crash" {
		writeAndCrash(os.Args[2])
		return
	}

	dir, err := os.MkdirTemp("", "ringwal-crash-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdtemp: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	fmt.Println("=== ringwal crash recovery test ===")
	fmt.Printf("Log directory: %s\n\n", dir)

	fmt.Printf("Phase 1: appending and flushing %d records, then exiting without Close...\n", recordCount)
	moduleRoot := findModuleRoot()

	cmd := exec.Command("go", "run", "./cmd/crashtest", "write-and-crash", dir)
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err == nil {
		fmt.Println("ERROR: child process should have exited with code 1")
		os.Exit(1)
	}
	fmt.Printf("  Child exited abnormally (expected)\n\n")

	fmt.Println("Phase 2: reopening and replaying...")
	cfg := config.DefaultConfig(filepath.Join(dir, "primary.wal"), filepath.Join(dir, "secondary.wal"))
	w, err := wal.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reopen failed: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	recovered := 0
	err = w.Replay(func(sequence uint64, payload []byte) error {
		want := fmt.Sprintf("crash-record-%06d", sequence-1)
		if string(payload) != want {
			fmt.Printf("  sequence %d payload mismatch: got %q, want %q\n", sequence, payload, want)
			return nil
		}
		recovered++
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("  Recovered: %d records\n\n", recovered)

	if recovered < recordCount {
		fmt.Printf("FAIL: only %d of %d flushed records survived the crash\n", recovered, recordCount)
		os.Exit(1)
	}
	fmt.Printf("PASS: %d records recovered after an unclean crash\n", recovered)
}

// writeAndCrash appends recordCount records, flushing after every 50th
// append (recordCount is a multiple of 50, so every record is flushed), then
// exits without calling Close to simulate a power loss or kill -9.
func writeAndCrash(dir string) {
	cfg := config.DefaultConfig(filepath.Join(dir, "primary.wal"), filepath.Join(dir, "secondary.wal"))
	w, err := wal.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(2)
	}

	for i := 0; i < recordCount; i++ {
		payload := []byte(fmt.Sprintf("crash-record-%06d", i))
		if _, err := w.Append(payload); err != nil {
			fmt.Fprintf(os.Stderr, "append failed at %d: %v\n", i, err)
			os.Exit(2)
		}
		if i%50 == 49 {
			if err := w.Flush(); err != nil {
				fmt.Fprintf(os.Stderr, "flush failed at %d: %v\n", i, err)
				os.Exit(2)
			}
		}
	}

	fmt.Printf("Wrote %d records. Crashing NOW (os.Exit(1), no Close)...\n", recordCount)
	os.Exit(1)
}

func findModuleRoot() string {
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}
