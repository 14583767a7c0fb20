// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/autollama/autollama/ingestion"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	flags := globalFlags()
	return &cli.App{
		Name:  "autollama",
		Usage: "Chunk, enrich and embed documents with resumable sessions",
		Flags: flags,
		Before: func(c *cli.Context) error {
			if err := altsrc.InitInputSourceWithContext(flags, altsrc.NewTomlSourceFromFlagFunc("config"))(c); err != nil {
				return fmt.Errorf("failed to load config file: %w", err)
			}
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Process a file or URL into enriched chunks",
				ArgsUsage: "<file|url>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "MIME type of the file (detected when empty)",
					},
				},
			},
			{
				Name:      "resume",
				Usage:     "Finish the incomplete chunks of a session",
				ArgsUsage: "<session-id>",
				Action:    resumeCommand,
			},
			{
				Name:   "sessions",
				Usage:  "List resumable sessions",
				Action: sessionsCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "List sessions in every status",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON instead of a table",
					},
				},
			},
			{
				Name:      "cancel",
				Usage:     "Stop a session",
				ArgsUsage: "<session-id>",
				Action:    cancelCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Usage:   "Base URL of the server running the session; empty cancels in the local store",
						EnvVars: []string{"AUTOLLAMA_SERVER"},
					},
				},
			},
			{
				Name:      "purge",
				Usage:     "Delete a session with its chunks and vectors",
				ArgsUsage: "<session-id>",
				Action:    purgeCommand,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP and WebSocket API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Listen address",
						Value:   ":8080",
						EnvVars: []string{"AUTOLLAMA_ADDR"},
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Print progress relayed through Redis",
				ArgsUsage: "[session-id]",
				Action:    watchCommand,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	defaults := ingestion.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "TOML file with flag values",
			EnvVars: []string{"AUTOLLAMA_CONFIG"},
		},
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set logging level (debug, info, warn, error)",
			Value:   "info",
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Path to BadgerDB database directory",
			Value:   "autollama.db",
			EnvVars: []string{"AUTOLLAMA_DB"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "postgres-url",
			Usage:   "Store data in PostgreSQL instead of BadgerDB",
			EnvVars: []string{"AUTOLLAMA_POSTGRES_URL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Relay progress events to Redis pub/sub",
			EnvVars: []string{"AUTOLLAMA_REDIS_URL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   "http://localhost:11434/v1",
			EnvVars: []string{"AUTOLLAMA_EMBEDDING_HOST"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   "embeddinggemma",
			EnvVars: []string{"AUTOLLAMA_EMBEDDING_MODEL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "analysis-host",
			Usage:   "Chunk analysis service host URL (defaults to embedding-host)",
			EnvVars: []string{"AUTOLLAMA_ANALYSIS_HOST"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "analysis-model",
			Usage:   "Chunk analysis model name",
			Value:   "qwen2.5:3b",
			EnvVars: []string{"AUTOLLAMA_ANALYSIS_MODEL"},
		}),
		altsrc.NewStringFlag(&cli.StringFlag{
			Name:    "api-key",
			Usage:   "API key for the AI services",
			EnvVars: []string{"OPENAI_API_KEY"},
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Characters per chunk",
			Value: defaults.ChunkSize,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "Characters shared by adjacent chunks",
			Value: defaults.ChunkOverlap,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Chunks enriched concurrently per session",
			Value: defaults.BatchSize,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Maximum attempts per AI call",
			Value: defaults.MaxRetries,
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:  "retry-delay",
			Usage: "Base delay for exponential backoff",
			Value: defaults.RetryBaseDelay,
		}),
		altsrc.NewBoolFlag(&cli.BoolFlag{
			Name:  "contextual",
			Usage: "Prefix chunks with the document context before embedding",
			Value: defaults.ContextualEmbeddings,
		}),
		altsrc.NewFloat64Flag(&cli.Float64Flag{
			Name:  "rate-limit",
			Usage: "Maximum AI calls per second (0 for no limit)",
		}),
		altsrc.NewDurationFlag(&cli.DurationFlag{
			Name:  "stale-after",
			Usage: "Idle time after which an active session is listed as resumable",
			Value: defaults.StaleAfter,
		}),
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:  "workers",
			Usage: "Worker pool size shared by all sessions (0 for 2 per CPU)",
		}),
	}
}

// pipelineConfig builds the pipeline configuration from flags.
func pipelineConfig(c *cli.Context) *ingestion.Config {
	cfg := ingestion.DefaultConfig()
	cfg.ChunkSize = c.Int("chunk-size")
	cfg.ChunkOverlap = c.Int("chunk-overlap")
	cfg.BatchSize = c.Int("batch-size")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.RetryBaseDelay = c.Duration("retry-delay")
	cfg.ContextualEmbeddings = c.Bool("contextual")
	cfg.RateLimit = c.Float64("rate-limit")
	cfg.RateBurst = max(1, c.Int("batch-size"))
	cfg.StaleAfter = c.Duration("stale-after")
	return cfg
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
