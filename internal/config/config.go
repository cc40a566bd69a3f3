package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/livekit/protocol/livekit"
)

// STT provider names accepted in STT_PROVIDER.
const (
	ProviderGoogle   = "google"
	ProviderDeepgram = "deepgram"
)

// Config holds the shared configuration for the dispatch CLI and the worker.
// Room name and agent name live here once so the two binaries cannot drift
// apart the way per-script constants would.
type Config struct {
	// LiveKit configuration
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	RoomName         string
	AgentName        string
	Namespace        string
	JobType          livekit.JobType

	// Worker behavior
	DrainTimeout       time.Duration
	MaxConcurrentJobs  int
	LoadUpdateInterval time.Duration
	LogLevel           string
	PProfAddr          string

	// Speech-to-text configuration
	STTProvider    string
	DeepgramAPIKey string
	Language       string

	// Transcript output
	TranscriptFile string
}

// Load loads configuration from .env, environment variables and flags.
// args is the command line without the program name (os.Args[1:]).
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.JobType = livekit.JobType_JT_ROOM
	cfg.AgentName = "Uritomo-Transcriber"
	cfg.DrainTimeout = 30 * time.Second
	cfg.MaxConcurrentJobs = 8
	cfg.LoadUpdateInterval = 5 * time.Second
	cfg.LogLevel = "info"
	cfg.STTProvider = ProviderGoogle
	cfg.Language = "en-US"

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.LiveKitURL = getEnv("LIVEKIT_URL", "")
	cfg.LiveKitAPIKey = getEnv("LIVEKIT_API_KEY", "")
	cfg.LiveKitAPISecret = getEnv("LIVEKIT_API_SECRET", "")
	cfg.RoomName = getEnv("ROOM_NAME", "")
	cfg.AgentName = getEnv("AGENT_NAME", cfg.AgentName)
	cfg.Namespace = getEnv("LK_NAMESPACE", "")
	cfg.PProfAddr = getEnv("LK_PPROF_ADDR", "")
	cfg.STTProvider = getEnv("STT_PROVIDER", cfg.STTProvider)
	cfg.DeepgramAPIKey = getEnv("DEEPGRAM_API_KEY", "")
	cfg.Language = getEnv("STT_LANGUAGE", cfg.Language)
	cfg.TranscriptFile = getEnv("TRANSCRIPT_FILE", "")

	if jobTypeStr := getEnv("LK_JOB_TYPE", ""); jobTypeStr != "" {
		switch jobTypeStr {
		case "JT_ROOM":
			cfg.JobType = livekit.JobType_JT_ROOM
		case "JT_PUBLISHER":
			cfg.JobType = livekit.JobType_JT_PUBLISHER
		default:
			return nil, fmt.Errorf("invalid job type: %s (must be JT_ROOM or JT_PUBLISHER)", jobTypeStr)
		}
	}

	if drainTimeoutStr := getEnv("LK_DRAIN_TIMEOUT", ""); drainTimeoutStr != "" {
		if d, err := time.ParseDuration(drainTimeoutStr); err == nil {
			cfg.DrainTimeout = d
		}
	}

	if maxJobsStr := getEnv("LK_MAX_CONCURRENT_JOBS", ""); maxJobsStr != "" {
		if n, err := strconv.Atoi(maxJobsStr); err == nil && n > 0 {
			cfg.MaxConcurrentJobs = n
		}
	}

	if logLevel := getEnv("LK_LOG_LEVEL", ""); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Override with flags
	fs := flag.NewFlagSet("uritomo-transcriber", flag.ContinueOnError)
	fs.StringVar(&cfg.LiveKitURL, "url", cfg.LiveKitURL, "LiveKit server URL")
	fs.StringVar(&cfg.LiveKitAPIKey, "api-key", cfg.LiveKitAPIKey, "LiveKit API key")
	fs.StringVar(&cfg.LiveKitAPISecret, "api-secret", cfg.LiveKitAPISecret, "LiveKit API secret")
	fs.StringVar(&cfg.RoomName, "room", cfg.RoomName, "Room name")
	fs.StringVar(&cfg.AgentName, "agent-name", cfg.AgentName, "Agent name")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.StringVar(&cfg.PProfAddr, "pprof-addr", cfg.PProfAddr, "pprof HTTP server address")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "Drain timeout")
	fs.IntVar(&cfg.MaxConcurrentJobs, "max-jobs", cfg.MaxConcurrentJobs, "Maximum concurrent jobs")
	fs.StringVar(&cfg.STTProvider, "stt-provider", cfg.STTProvider, "Speech-to-text provider (google or deepgram)")
	fs.StringVar(&cfg.Language, "language", cfg.Language, "Recognition language code")
	fs.StringVar(&cfg.TranscriptFile, "transcript-file", cfg.TranscriptFile, "Append finalized transcripts as JSON lines to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.LiveKitURL == "" {
		return nil, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKitAPIKey == "" {
		return nil, fmt.Errorf("LIVEKIT_API_KEY is required")
	}
	if cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("LIVEKIT_API_SECRET is required")
	}
	if cfg.AgentName == "" {
		return nil, fmt.Errorf("AGENT_NAME is required")
	}

	switch cfg.STTProvider {
	case ProviderGoogle:
	case ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	default:
		return nil, fmt.Errorf("invalid STT provider: %s (must be google or deepgram)", cfg.STTProvider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
