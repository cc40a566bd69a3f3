package main

import (
	"fmt"
	"os"

	"github.com/N23083/uritomo-transcriber/internal/config"
	"github.com/N23083/uritomo-transcriber/internal/logging"
	"github.com/N23083/uritomo-transcriber/internal/stt"
	"github.com/N23083/uritomo-transcriber/internal/stt/deepgram"
	"github.com/N23083/uritomo-transcriber/internal/stt/google"
	"github.com/N23083/uritomo-transcriber/internal/transcript"
	"github.com/N23083/uritomo-transcriber/internal/version"
	"github.com/N23083/uritomo-transcriber/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logging.Init(cfg.LogLevel)

	logging.Info(logging.CategoryApp, "starting uritomo-transcriber version=%s", version.Version)

	// Select STT provider
	var provider stt.Provider
	switch cfg.STTProvider {
	case config.ProviderDeepgram:
		provider = deepgram.NewProvider(cfg.DeepgramAPIKey)
	default:
		provider = google.NewProvider()
	}

	// Build transcript sinks: console always, JSONL file when configured
	sink := transcript.MultiSink{transcript.NewConsoleSink(nil)}
	if cfg.TranscriptFile != "" {
		jsonl, err := transcript.NewJSONLSink(cfg.TranscriptFile)
		if err != nil {
			logging.Fail(logging.CategoryApp, "failed to open transcript file: %v", err)
			os.Exit(1)
		}
		defer jsonl.Close()
		sink = append(sink, jsonl)
	}

	// Create worker
	w, err := worker.NewWorker(cfg, provider, sink)
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to create worker: %v", err)
		os.Exit(1)
	}

	// Start worker (blocks until shutdown)
	if err := w.Start(); err != nil {
		logging.Fail(logging.CategoryApp, "worker failed: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "worker shutdown complete")
}
