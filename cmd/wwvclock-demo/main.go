// Command wwvclock-demo feeds a raw interleaved float32 I/Q capture through
// the detector engine and prints each frame-time transition it recognizes.
package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"

	"github.com/cwsl/wwvclock"
	"github.com/cwsl/wwvclock/engine"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to a YAML engine config (defaults to the built-in WWV profile)")
		detectorPath = flag.String("detector-iq", "", "raw interleaved float32 I/Q capture at the detector sample rate (required)")
		displayPath  = flag.String("display-iq", "", "optional raw interleaved float32 I/Q capture at the display sample rate")
	)
	flag.Parse()

	if *detectorPath == "" {
		fmt.Fprintln(os.Stderr, "usage: wwvclock-demo -detector-iq <file> [-display-iq <file>] [-config <file>]")
		os.Exit(2)
	}

	cfg := engine.DefaultConfig()
	if *configPath != "" {
		loaded, err := engine.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("wwvclock-demo: %v", err)
		}
		cfg = *loaded
	}

	syncLogPath, cleanup, err := syncLogFile(cfg)
	if err != nil {
		log.Fatalf("wwvclock-demo: %v", err)
	}
	defer cleanup()
	cfg.Logging.SyncLogPath = syncLogPath

	logger := log.New(os.Stderr, "wwvclock-demo: ", log.LstdFlags)
	mgr, err := engine.NewManager(cfg, logger)
	if err != nil {
		log.Fatalf("wwvclock-demo: build manager: %v", err)
	}

	if err := streamIQ(*detectorPath, mgr.PushDetectorSample); err != nil {
		log.Fatalf("wwvclock-demo: detector stream: %v", err)
	}
	if *displayPath != "" {
		if err := streamIQ(*displayPath, mgr.PushDisplaySample); err != nil {
			log.Fatalf("wwvclock-demo: display stream: %v", err)
		}
	}

	if err := mgr.Close(); err != nil {
		log.Fatalf("wwvclock-demo: close manager: %v", err)
	}

	if err := printTransitions(syncLogPath); err != nil {
		log.Fatalf("wwvclock-demo: %v", err)
	}
}

// syncLogFile returns the path the manager should log frame-time records
// to: the caller's configured path if set, otherwise a temp file cleaned
// up on exit.
func syncLogFile(cfg engine.Config) (string, func(), error) {
	if cfg.Logging.SyncLogPath != "" {
		return cfg.Logging.SyncLogPath, func() {}, nil
	}
	f, err := os.CreateTemp("", "wwvclock-demo-sync-*.jsonl")
	if err != nil {
		return "", nil, fmt.Errorf("create sync log: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, func() { os.Remove(path) }, nil
}

// streamIQ reads little-endian interleaved float32 I/Q samples from path
// and calls push once per sample pair.
func streamIQ(path string, push func(i, q float64)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<16)
	var buf [8]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			if err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		i := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
		q := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
		push(float64(i), float64(q))
	}
}

// syncRecord mirrors the JSON Lines shape the manager's sync log writes.
// Version is only set on the leading marker line every new log starts with.
type syncRecord struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
	Data      struct {
		CurrentSecond  int     `json:"CurrentSecond"`
		SecondStartMS  float64 `json:"SecondStartMS"`
		Confidence     float64 `json:"Confidence"`
		EvidenceMask   uint32  `json:"EvidenceMask"`
		State          int     `json:"State"`
		MinuteAnchorMS float64 `json:"MinuteAnchorMS"`
	} `json:"data"`
}

// printTransitions reads the JSON Lines sync log and prints one line per
// state change, skipping the repeated per-second records a steady lock
// produces.
func printTransitions(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sync log: %w", err)
	}

	lastState := -1
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec syncRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Version != 0 {
			// The leading version-tagged marker line, not a FrameTime record.
			continue
		}
		if rec.Data.State == lastState {
			continue
		}
		lastState = rec.Data.State
		fmt.Printf("second=%d state=%s confidence=%.2f anchor_ms=%.1f\n",
			rec.Data.CurrentSecond, wwvclock.SyncState(rec.Data.State), rec.Data.Confidence, rec.Data.MinuteAnchorMS)
	}
	return scanner.Err()
}
