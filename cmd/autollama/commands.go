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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/autollama/autollama"
	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/ai/openai"
	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/ingestion"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/server"
	"github.com/autollama/autollama/session"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

// newProvider creates the AI provider. Tests replace it.
var newProvider = func(config *ai.Config) (ai.Provider, error) {
	return openai.NewProvider(config)
}

// env is the database and pipeline a command runs against.
type env struct {
	db       *autollama.Database
	pipeline *ingestion.Pipeline
	redis    *redis.Client
}

func openEnv(c *cli.Context) (*env, error) {
	analysisHost := c.String("analysis-host")
	if analysisHost == "" {
		analysisHost = c.String("embedding-host")
	}
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAnalysisHost(analysisHost),
		ai.WithAnalysisModel(c.String("analysis-model")),
		ai.WithAPIKey(c.String("api-key")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	provider, err := newProvider(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI provider: %w", err)
	}

	e := &env{}
	opts := []autollama.DatabaseOption{autollama.WithProvider(provider)}
	if pgURL := c.String("postgres-url"); pgURL != "" {
		opts = append(opts, autollama.WithPostgres(pgURL))
	}
	if redisURL := c.String("redis-url"); redisURL != "" {
		client, err := redisClient(redisURL)
		if err != nil {
			provider.Close()
			return nil, err
		}
		e.redis = client
		opts = append(opts, autollama.WithRedis(client))
	}

	db, err := autollama.NewDatabase(c.String("db"), opts...)
	if err != nil {
		provider.Close()
		e.close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.db = db

	pipelineOpts := []ingestion.Option{ingestion.WithConfig(pipelineConfig(c))}
	if workers := c.Int("workers"); workers > 0 {
		pipelineOpts = append(pipelineOpts, ingestion.WithPoolSize(workers))
	}
	e.pipeline, err = db.NewPipeline(pipelineOpts...)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return e, nil
}

func (e *env) close() {
	if e.pipeline != nil {
		_ = e.pipeline.Close(context.Background())
	}
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

func redisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return arg, nil
}

func ingestCommand(c *cli.Context) error {
	arg, err := requireArg(c, "a file or URL")
	if err != nil {
		return err
	}

	var src ingestion.Source
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		src = ingestion.Source{URL: arg}
	} else {
		data, err := os.ReadFile(arg)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", arg, err)
		}
		src = ingestion.Source{
			Filename:    filepath.Base(arg),
			Data:        data,
			ContentType: c.String("content-type"),
		}
	}

	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.pipeline.Ingest(context.Background(), src)
	if err != nil {
		return fmt.Errorf("failed to start ingestion: %w", err)
	}
	return follow(c, e.pipeline, run)
}

func resumeCommand(c *cli.Context) error {
	id, err := requireArg(c, "session id")
	if err != nil {
		return err
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.pipeline.Resume(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to resume session: %w", err)
	}
	return follow(c, e.pipeline, run)
}

// follow renders a run's progress until it settles. An interrupt cancels
// the session, which can be resumed later.
func follow(c *cli.Context, p *ingestion.Pipeline, run *ingestion.Run) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-ctx.Done():
			if _, err := p.Cancel(context.Background(), run.SessionID); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "cancel failed: %v\n", err)
			}
		case <-run.Done():
		}
	}()

	tracker := progress.NewTracker(c.App.ErrWriter)
	for ev := range run.Events() {
		tracker.Observe(ev)
	}
	s, err := run.Wait(context.Background())
	if err != nil {
		return err
	}
	if s == nil {
		fmt.Fprintf(c.App.Writer, "Session %s not found, nothing to do\n", run.SessionID)
		return nil
	}

	fmt.Fprintf(c.App.Writer, "Session %s %s: %d/%d chunks in %s\n",
		s.ID, s.Status, s.CompletedChunks, s.TotalChunks, tracker.Elapsed().Round(time.Millisecond))
	if s.Status == core.SessionStatusCompleted && !s.Resumable {
		return nil
	}
	msg := fmt.Sprintf("session %s %s", s.ID, s.Status)
	if s.ErrorMessage != "" {
		msg += ": " + s.ErrorMessage
	}
	if s.Resumable {
		msg += fmt.Sprintf(" (resume with: autollama resume %s)", s.ID)
	}
	return cli.Exit(msg, 1)
}

func sessionsCommand(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	var sessions []*core.Session
	if c.Bool("all") {
		sessions, err = e.db.Coordinator().Sessions().ListSessions(c.Context)
	} else {
		sessions, err = e.pipeline.ListResumable(c.Context)
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	summaries := make([]session.Summary, len(sessions))
	for i, s := range sessions {
		summaries[i] = session.Summarize(s)
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	return printSummaries(c.App.Writer, summaries)
}

func printSummaries(w io.Writer, summaries []session.Summary) error {
	if len(summaries) == 0 {
		_, err := fmt.Fprintln(w, "No sessions")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tCHUNKS\tLAST ACTIVITY\tSOURCE")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.SessionID, s.Status, s.CompletedChunks, s.TotalChunks,
			s.LastActivityAt.Local().Format(time.DateTime), s.Filename)
	}
	return tw.Flush()
}

func cancelCommand(c *cli.Context) error {
	id, err := requireArg(c, "session id")
	if err != nil {
		return err
	}

	var summary session.Summary
	if base := c.String("server"); base != "" {
		summary, err = cancelRemote(c.Context, base, id)
		if err != nil {
			return err
		}
	} else {
		e, err := openEnv(c)
		if err != nil {
			return err
		}
		defer e.close()
		s, err := e.pipeline.Cancel(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to cancel session: %w", err)
		}
		summary = session.Summarize(s)
	}
	fmt.Fprintf(c.App.Writer, "Session %s is %s (%d/%d chunks)\n",
		summary.SessionID, summary.Status, summary.CompletedChunks, summary.TotalChunks)
	return nil
}

// cancelRemote asks a running server to stop a session it is processing.
func cancelRemote(ctx context.Context, base, id string) (session.Summary, error) {
	endpoint, err := url.JoinPath(base, "sessions", id, "cancel")
	if err != nil {
		return session.Summary{}, fmt.Errorf("invalid server url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return session.Summary{}, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return session.Summary{}, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return session.Summary{}, fmt.Errorf("server refused cancel (%s): %s", resp.Status, body.Error)
	}
	var summary session.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return session.Summary{}, fmt.Errorf("invalid server response: %w", err)
	}
	return summary, nil
}

func purgeCommand(c *cli.Context) error {
	id, err := requireArg(c, "session id")
	if err != nil {
		return err
	}
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.pipeline.Purge(c.Context, id); err != nil {
		return fmt.Errorf("failed to purge session: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Purged session %s\n", id)
	return nil
}

func serveCommand(c *cli.Context) error {
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(e.pipeline).ListenAndServe(ctx, c.String("addr"))
}

func watchCommand(c *cli.Context) error {
	redisURL := c.String("redis-url")
	if redisURL == "" {
		return errors.New("redis-url is required to watch progress")
	}
	client, err := redisClient(redisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := c.Args().First()
	sub, err := progress.Subscribe(ctx, client, id)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	tracker := progress.NewTracker(c.App.ErrWriter)
	for ev := range sub.Events() {
		if id == "" {
			fmt.Fprintf(c.App.Writer, "%s %s\n", ev.SessionID, ev)
			continue
		}
		tracker.Observe(ev)
		if ev.Step.Terminal() {
			return nil
		}
	}
	return nil
}
