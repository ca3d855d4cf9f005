// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/codevec/internal/contract"
	"github.com/kraklabs/codevec/pkg/embedding"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// Stage names, as reported in StageError and the summary timings.
const (
	StageLoad    = "load"
	StageGraph   = "graph"
	StageExport  = "export"
	StageRebuild = "rebuild"
	StageStream  = "stream"
	StageSummary = "summary"
)

// dimensionProbe is embedded once before the collection is rebuilt so a
// backend returning the wrong vector length fails the run before anything
// is dropped or written.
const dimensionProbe = "func main() {}"

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config tunes a Pipeline.
type Config struct {
	// QueueDepth bounds the chunk and point channels between stages.
	QueueDepth int

	// EmbedBatchSize is the number of chunks per EmbedBatch call.
	EmbedBatchSize int

	// WriterMaxBytes caps the estimated size of one upsert request.
	// Defaults to the request soft limit.
	WriterMaxBytes int

	// Metric is the similarity metric the collection is rebuilt with.
	Metric vectorindex.Metric

	// ExportAST also writes ast_nodes.jsonl. The graph builder must retain
	// trees for it to have content.
	ExportAST bool

	// Progress, if set, is called from the upsert stage with the running
	// count of points written.
	Progress func(written int)
}

// Pipeline runs load, graph, export, rebuild and the streaming
// chunk/embed/upsert stages for one project at a time. A Pipeline holds no
// per-run state; each call gets its own ingestion.RunContext.
type Pipeline struct {
	cfg         Config
	loader      *ingestion.RepoLoader
	builder     *ingestion.GraphBuilder
	chunker     *ingestion.Chunker
	coordinator *embedding.Coordinator
	manager     *vectorindex.Manager
	logger      *slog.Logger
}

// Components are the collaborators a Pipeline drives. Loader and Builder may
// be nil for a pipeline that only ingests chunk artifacts.
type Components struct {
	Loader      *ingestion.RepoLoader
	Builder     *ingestion.GraphBuilder
	Chunker     *ingestion.Chunker
	Coordinator *embedding.Coordinator
	Manager     *vectorindex.Manager
}

// New creates a pipeline.
func New(cfg Config, c Components, logger *slog.Logger) (*Pipeline, error) {
	if c.Chunker == nil || c.Coordinator == nil || c.Manager == nil {
		return nil, fmt.Errorf("pipeline requires a chunker, an embedding coordinator and an index manager")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.WriterMaxBytes <= 0 {
		cfg.WriterMaxBytes = contract.SoftLimitBytes()
	}
	if cfg.Metric == "" {
		cfg.Metric = vectorindex.MetricCosine
	}
	pipeMetrics.init()
	return &Pipeline{
		cfg:         cfg,
		loader:      c.Loader,
		builder:     c.Builder,
		chunker:     c.Chunker,
		coordinator: c.Coordinator,
		manager:     c.Manager,
		logger:      logger,
	}, nil
}

// Run indexes the repository at root. The returned summary is non-nil even
// when the run fails; its Status is StatusFailed and the error is a
// *StageError.
func (p *Pipeline) Run(ctx context.Context, run ingestion.RunContext, root string) (*RunSummary, error) {
	sum := newRunSummary(run, SourceRepository)
	if p.loader == nil || p.builder == nil {
		return p.finish(run, sum, nil, &StageError{Stage: StageLoad, Err: errors.New("pipeline has no repository loader or graph builder")})
	}

	p.logger.Info("pipeline.start",
		"project", run.Project,
		"run_id", run.RunID,
		"root", root,
		"run_dir", run.Dir,
	)

	aw, err := p.artifactWriter(run)
	if err != nil {
		return p.finish(run, sum, nil, &StageError{Stage: StageExport, Err: err})
	}

	var loaded *ingestion.LoadResult
	err = p.stage(ctx, run, sum, StageLoad, func(ctx context.Context) error {
		var err error
		loaded, err = p.loader.Load(ctx, root)
		if err != nil {
			return err
		}
		sum.FilesScanned = loaded.FileCount
		sum.FilesSkipped = loaded.SkipReasons
		return nil
	})
	if err != nil {
		return p.finish(run, sum, aw, err)
	}

	var built *ingestion.BuildResult
	err = p.stage(ctx, run, sum, StageGraph, func(ctx context.Context) error {
		var err error
		built, err = p.builder.Build(ctx, run, loaded.Files)
		if err != nil {
			return err
		}
		sum.addBuildReport(built.Report, built.Graph)
		return nil
	})
	if err != nil {
		return p.finish(run, sum, aw, err)
	}

	if aw != nil {
		err = p.stage(ctx, run, sum, StageExport, func(ctx context.Context) error {
			if err := aw.WriteGraph(built.Graph); err != nil {
				return err
			}
			if p.cfg.ExportAST {
				return aw.WriteASTNodes(built.Trees)
			}
			return nil
		})
		if err != nil {
			return p.finish(run, sum, aw, err)
		}
	}

	// The parse trees are no longer needed once exported.
	built.Trees = nil

	if err := p.stage(ctx, run, sum, StageRebuild, p.rebuild(sum)); err != nil {
		return p.finish(run, sum, aw, err)
	}

	sources := loaded.Sources()
	produce := func(ctx context.Context, out chan<- ingestion.CodeChunk) error {
		stats, err := p.chunker.Stream(ctx, built.Graph, sources, out)
		sum.ChunksEmitted = stats.Emitted
		sum.addSkipped(stats.Skipped)
		return err
	}
	err = p.stage(ctx, run, sum, StageStream, func(ctx context.Context) error {
		return p.stream(ctx, aw, sum, produce)
	})
	return p.finish(run, sum, aw, err)
}

// IngestChunks rebuilds the collection and indexes the CodeChunk records
// read from r, skipping the load, graph and export stages. Malformed lines
// are counted and skipped.
func (p *Pipeline) IngestChunks(ctx context.Context, run ingestion.RunContext, r io.Reader) (*RunSummary, error) {
	sum := newRunSummary(run, SourceChunks)
	p.logger.Info("pipeline.start",
		"project", run.Project,
		"run_id", run.RunID,
		"source", SourceChunks,
		"run_dir", run.Dir,
	)

	aw, err := p.artifactWriter(run)
	if err != nil {
		return p.finish(run, sum, nil, &StageError{Stage: StageExport, Err: err})
	}

	if err := p.stage(ctx, run, sum, StageRebuild, p.rebuild(sum)); err != nil {
		return p.finish(run, sum, aw, err)
	}

	bounds := p.chunker.Config()
	produce := func(ctx context.Context, out chan<- ingestion.CodeChunk) error {
		stats, err := ingestion.ReadChunks(ctx, r, bounds, p.logger, func(c ingestion.CodeChunk) error {
			select {
			case out <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		sum.ChunksEmitted = stats.Records
		sum.MalformedLines = stats.Malformed
		sum.addSkipped(stats.Skipped)
		return err
	}
	err = p.stage(ctx, run, sum, StageStream, func(ctx context.Context) error {
		return p.stream(ctx, aw, sum, produce)
	})
	return p.finish(run, sum, aw, err)
}

func (p *Pipeline) artifactWriter(run ingestion.RunContext) (*ingestion.ArtifactWriter, error) {
	if run.Dir == "" {
		return nil, nil
	}
	return ingestion.NewArtifactWriter(run.Dir)
}

// rebuild probes the backend for its vector length, then drops and
// recreates the collection. A probe failure leaves the previous generation
// untouched.
func (p *Pipeline) rebuild(sum *RunSummary) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		vecs, err := p.coordinator.EmbedBatch(ctx, []string{dimensionProbe})
		if err != nil {
			return fmt.Errorf("probe embedding backend: %w", err)
		}
		dim := p.coordinator.Dimension()
		if dim == 0 {
			dim = len(vecs[0])
		}
		if err := p.manager.Rebuild(ctx, dim, p.cfg.Metric); err != nil {
			return err
		}
		sum.Collection = p.manager.Collection()
		sum.Dimension = dim
		return nil
	}
}

// stream runs produce, the embed stage and the upsert stage concurrently,
// connected by bounded channels. The first error cancels the others.
func (p *Pipeline) stream(ctx context.Context, aw *ingestion.ArtifactWriter, sum *RunSummary, produce func(context.Context, chan<- ingestion.CodeChunk) error) error {
	var chunkLog *ingestion.JSONLWriter
	if aw != nil {
		var err error
		chunkLog, err = aw.NewJSONLWriter(ingestion.ChunksFile)
		if err != nil {
			return err
		}
	}

	chunks := make(chan ingestion.CodeChunk, p.cfg.QueueDepth)
	points := make(chan vectorindex.Point, p.cfg.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		if err := produce(gctx, chunks); err != nil {
			return fmt.Errorf("produce chunks: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer close(points)
		return p.embedStage(gctx, chunks, points, chunkLog)
	})

	g.Go(func() error {
		written, err := p.upsertStage(gctx, points)
		sum.VectorsWritten = written
		return err
	})

	if err := g.Wait(); err != nil {
		if chunkLog != nil {
			chunkLog.Abort()
		}
		return err
	}
	if chunkLog != nil {
		if err := chunkLog.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) embedStage(ctx context.Context, in <-chan ingestion.CodeChunk, out chan<- vectorindex.Point, chunkLog *ingestion.JSONLWriter) error {
	batch := make([]ingestion.CodeChunk, 0, p.cfg.EmbedBatchSize)
	texts := make([]string, 0, p.cfg.EmbedBatchSize)
	fillStart := time.Now()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		pipeMetrics.queueWait.Observe(time.Since(fillStart).Seconds())
		texts = texts[:0]
		for _, c := range batch {
			texts = append(texts, c.EmbeddingText())
		}
		vecs, err := p.coordinator.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch starting at %s: %w", batch[0].ID, err)
		}
		for i, c := range batch {
			if chunkLog != nil {
				if err := chunkLog.Write(c); err != nil {
					return fmt.Errorf("write chunk artifact: %w", err)
				}
			}
			select {
			case out <- vectorindex.PointFromChunk(c, vecs[i]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		pipeMetrics.chunksQueued.Add(float64(len(batch)))
		batch = batch[:0]
		fillStart = time.Now()
		return nil
	}

	for c := range in {
		batch = append(batch, c)
		if len(batch) >= p.cfg.EmbedBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}

func (p *Pipeline) upsertStage(ctx context.Context, in <-chan vectorindex.Point) (int, error) {
	w := vectorindex.NewWriter(p.manager, 0, p.cfg.WriterMaxBytes)
	last := 0
	report := func() {
		if p.cfg.Progress != nil && w.Written() != last {
			last = w.Written()
			p.cfg.Progress(last)
		}
	}

	for pt := range in {
		if err := w.Add(ctx, pt); err != nil {
			return w.Written(), fmt.Errorf("upsert: %w", err)
		}
		report()
	}
	if err := ctx.Err(); err != nil {
		return w.Written(), err
	}
	if err := w.Flush(ctx); err != nil {
		return w.Written(), fmt.Errorf("upsert: %w", err)
	}
	report()
	return w.Written(), nil
}

// stage times fn, logs its start and completion, and wraps a failure in a
// StageError.
func (p *Pipeline) stage(ctx context.Context, run ingestion.RunContext, sum *RunSummary, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	p.logger.Info("pipeline.stage.start", "project", run.Project, "run_id", run.RunID, "stage", name)
	start := time.Now()

	err := fn(ctx)

	elapsed := time.Since(start)
	sum.TimingsMS[name] = elapsed.Milliseconds()
	pipeMetrics.stageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		p.logger.Error("pipeline.stage.failed",
			"project", run.Project,
			"run_id", run.RunID,
			"stage", name,
			"duration_ms", elapsed.Milliseconds(),
			"err", err,
		)
		return &StageError{Stage: name, Err: err}
	}
	p.logger.Info("pipeline.stage.complete",
		"project", run.Project,
		"run_id", run.RunID,
		"stage", name,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// finish stamps the summary, writes summary.json when the run has an output
// directory, and returns runErr (or the summary write error).
func (p *Pipeline) finish(run ingestion.RunContext, sum *RunSummary, aw *ingestion.ArtifactWriter, runErr error) (*RunSummary, error) {
	sum.FinishedAt = time.Now().UTC()
	sum.TimingsMS["total"] = sum.FinishedAt.Sub(sum.StartedAt).Milliseconds()
	sum.Status = StatusOK
	if runErr != nil {
		sum.Status = StatusFailed
		sum.Error = runErr.Error()
	}

	if aw != nil {
		if err := aw.WriteJSON(ingestion.SummaryFile, sum); err != nil && runErr == nil {
			sum.Status = StatusFailed
			sum.Error = err.Error()
			runErr = &StageError{Stage: StageSummary, Err: err}
		}
	}
	pipeMetrics.runs.WithLabelValues(sum.Source, sum.Status).Inc()

	if runErr != nil {
		p.logger.Error("pipeline.failed",
			"project", run.Project,
			"run_id", run.RunID,
			"err", runErr,
		)
		return sum, runErr
	}
	p.logger.Info("pipeline.complete",
		"project", run.Project,
		"run_id", run.RunID,
		"files", sum.FilesParsed,
		"nodes", sum.Nodes,
		"edges", sum.Edges,
		"chunks", sum.ChunksEmitted,
		"vectors", sum.VectorsWritten,
		"duration_ms", sum.TimingsMS["total"],
	)
	return sum, nil
}
