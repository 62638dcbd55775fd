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
	"errors"
	"fmt"
	"log"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/conduit/ai"
	"github.com/poiesic/conduit/ai/openai"
	"github.com/poiesic/conduit/ai/plaintext"
	qdrantstore "github.com/poiesic/conduit/ai/qdrant"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/pipeline"
	"github.com/poiesic/conduit/scheduler"
	badgerstore "github.com/poiesic/conduit/storage/badger"
	"github.com/poiesic/conduit/uploadqueue"
)

func main() {
	app := &cli.App{
		Name:  "conduit",
		Usage: "File ingestion pipeline: extract, chunk, embed, and store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest files directly, bypassing the durable queues",
				ArgsUsage: "FILE [FILE...]",
				Action:    ingestCommand,
				Flags: append(pipelineFlags(), &cli.IntFlag{
					Name:  "priority",
					Usage: "Job priority; higher runs first",
					Value: 0,
				}),
			},
			{
				Name:      "enqueue",
				Usage:     "Add files to a durable upload queue",
				ArgsUsage: "FILE [FILE...]",
				Action:    enqueueCommand,
				Flags: []cli.Flag{
					dbFlag(),
					userFlag(),
					&cli.StringFlag{
						Name:     "queue",
						Aliases:  []string{"q"},
						Usage:    "Queue name",
						Required: true,
					},
				},
			},
			{
				Name:   "drain",
				Usage:  "Process the durable queues until every item settles",
				Action: drainCommand,
				Flags:  pipelineFlags(),
			},
			{
				Name:   "queues",
				Usage:  "List a user's upload queues and item counts",
				Action: queuesCommand,
				Flags:  []cli.Flag{dbFlag(), userFlag()},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func dbFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Owner of the queues and jobs",
		Value:   "default",
	}
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		dbFlag(),
		userFlag(),
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:     "embedding-model",
			Usage:    "Embedding model name",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "Embedding service API key",
			Value: "none",
		},
		&cli.StringFlag{
			Name:  "qdrant-host",
			Usage: "Qdrant gRPC host",
			Value: "localhost",
		},
		&cli.IntFlag{
			Name:  "qdrant-port",
			Usage: "Qdrant gRPC port",
			Value: 6334,
		},
		&cli.BoolFlag{
			Name:  "qdrant-tls",
			Usage: "Use TLS for the Qdrant connection",
		},
		&cli.IntFlag{
			Name:  "vector-size",
			Usage: "Embedding vector dimension",
			Value: 384,
		},
		&cli.StringFlag{
			Name:  "namespace",
			Usage: "Vector store collection name",
			Value: "conduit",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Splitter chunk size in characters",
			Value: 1500,
		},
		&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "Splitter chunk overlap in characters",
			Value: 200,
		},
	}
}

// buildPipeline assembles the real adapters and the component graph from
// the CLI flags.
func buildPipeline(ctx context.Context, c *cli.Context) (*pipeline.Pipeline, error) {
	aiConfig := ai.DefaultConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithAPIKey(c.String("api-key")),
	)
	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	store, err := qdrantstore.NewStore(&qdrantstore.Config{
		Host:       c.String("qdrant-host"),
		Port:       c.Int("qdrant-port"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     c.Bool("qdrant-tls"),
		VectorSize: uint64(c.Int("vector-size")),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	queueStore, err := openQueueStore(c.String("db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	cfg := pipeline.DefaultConfig()
	cfg.Namespace = c.String("namespace")
	cfg.ChunkSize = c.Int("chunk-size")
	cfg.ChunkOverlap = c.Int("chunk-overlap")

	p, err := pipeline.New(ctx, cfg, pipeline.Deps{
		Extractor:  plaintext.NewExtractor(),
		Embedder:   embedder,
		Store:      store,
		QueueStore: queueStore,
	})
	if err != nil {
		store.Close()
		queueStore.Close()
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	return p, nil
}

func openQueueStore(dbPath string) (*badgerstore.QueueStore, error) {
	backend, err := badgerstore.OpenBackend(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}
	return badgerstore.NewQueueStore(backend), nil
}

func fileMeta(path string) (core.FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return core.FileMeta{}, err
	}
	if info.IsDir() {
		return core.FileMeta{}, fmt.Errorf("%s is a directory", path)
	}
	return core.FileMeta{
		Name:        filepath.Base(path),
		Path:        path,
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	ctx := context.Background()
	p, err := buildPipeline(ctx, c)
	if err != nil {
		return err
	}
	defer p.Close()

	userID := c.String("user")
	jobs := make(map[string]string, c.NArg()) // job id -> file name
	for _, path := range c.Args().Slice() {
		meta, err := fileMeta(path)
		if err != nil {
			return err
		}
		jobID, err := p.SubmitFile(userID, meta, c.Int("priority"))
		if err != nil {
			return fmt.Errorf("submitting %s: %w", path, err)
		}
		jobs[jobID] = meta.Name
	}

	failed := 0
	for jobID, name := range jobs {
		snap := waitForTerminal(p, jobID)
		switch snap.State {
		case scheduler.StateCompleted:
			fmt.Fprintf(os.Stderr, "done  %s\n", name)
		default:
			failed++
			message := ""
			if len(snap.Errors) > 0 {
				message = snap.Errors[len(snap.Errors)-1]
			}
			fmt.Fprintf(os.Stderr, "FAIL  %s: %s\n", name, message)
		}
	}

	printStats(p)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(jobs))
	}
	return nil
}

func enqueueCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	ctx := context.Background()
	queueStore, err := openQueueStore(c.String("db"))
	if err != nil {
		return err
	}
	manager, err := uploadqueue.New(ctx, queueStore, uploadqueue.DefaultConfig())
	if err != nil {
		queueStore.Close()
		return err
	}
	defer func() {
		manager.Close()
		queueStore.Close()
	}()

	userID := c.String("user")
	queueName := c.String("queue")
	if _, err := manager.CreateQueue(ctx, userID, queueName); err != nil && !errors.Is(err, uploadqueue.ErrQueueExists) {
		return err
	}

	files := make([]core.FileMeta, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		meta, err := fileMeta(path)
		if err != nil {
			return err
		}
		files = append(files, meta)
	}

	items, err := manager.AddItems(ctx, userID, queueName, files)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "enqueued %d items on %s\n", len(items), core.QueueKey(userID, queueName))
	return nil
}

func drainCommand(c *cli.Context) error {
	ctx := context.Background()
	p, err := buildPipeline(ctx, c)
	if err != nil {
		return err
	}
	defer p.Close()

	userID := c.String("user")
	for {
		queues := p.UserQueues(userID)
		busy := false
		for _, record := range queues {
			for _, item := range record.Items {
				if !item.Status.Terminal() {
					busy = true
				}
			}
		}
		stats := p.SchedulerStats()
		if !busy && stats.Queued == 0 && stats.Running == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	printStats(p)
	return nil
}

func queuesCommand(c *cli.Context) error {
	queueStore, err := openQueueStore(c.String("db"))
	if err != nil {
		return err
	}
	manager, err := uploadqueue.New(context.Background(), queueStore, uploadqueue.DefaultConfig())
	if err != nil {
		queueStore.Close()
		return err
	}
	defer func() {
		manager.Close()
		queueStore.Close()
	}()

	queues := manager.Queues(c.String("user"))
	if len(queues) == 0 {
		fmt.Println("no queues")
		return nil
	}
	for _, record := range queues {
		state := "active"
		if record.Paused {
			state = "paused"
		}
		completed, failedItems := 0, 0
		for _, item := range record.Items {
			switch item.Status {
			case core.ItemCompleted:
				completed++
			case core.ItemFailed:
				failedItems++
			}
		}
		fmt.Printf("%-30s %-7s %3d items (%d pending, %d completed, %d failed)\n",
			record.Name, state, len(record.Items), record.PendingCount(), completed, failedItems)
	}
	return nil
}

func waitForTerminal(p *pipeline.Pipeline, jobID string) scheduler.Snapshot {
	for {
		snap, err := p.JobStatus(jobID)
		if err != nil {
			return scheduler.Snapshot{ID: jobID, State: scheduler.StateFailed}
		}
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printStats(p *pipeline.Pipeline) {
	sched := p.SchedulerStats()
	batch := p.BatcherMetrics()
	cacheStats := p.CacheStats()
	pool := p.PoolMetrics()

	fmt.Fprintf(os.Stderr, "\njobs: %d processed, %d failed, %d retried\n",
		sched.Processed, sched.Failed, sched.Retried)
	fmt.Fprintf(os.Stderr, "embeddings: %d computed, %d cache hits, %d deduped, avg batch %.1f\n",
		batch.TextsEmbedded, batch.CacheHits, batch.Deduped, batch.AvgBatchSize)
	fmt.Fprintf(os.Stderr, "cache: %d entries, %d evictions\n", cacheStats.Entries, cacheStats.Evictions)
	fmt.Fprintf(os.Stderr, "store: %d calls, %d failures, breaker %s\n",
		pool.TotalCalls, pool.Failures, pool.BreakerState)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
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

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
