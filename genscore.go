// Copyright 2026 Plinth AI
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

// Package genscore orchestrates a batch text-to-image run: format and
// tokenize each prompt, sample image tokens under classifier-free guidance,
// write one PNG per prompt, then score the output directory with an
// external classifier.
package genscore

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v2"
	"go.uber.org/zap"

	"github.com/plinth-ai/genscore/lib/model"
	"github.com/plinth-ai/genscore/lib/prompts"
	"github.com/plinth-ai/genscore/lib/sampler"
)

// Status is the lifecycle state of one prompt in a batch.
type Status string

const (
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one prompt.
type Outcome struct {
	Index  int
	Prompt string
	Status Status
	Err    error
}

// RunReport collects per-prompt outcomes and the final classification rate.
type RunReport struct {
	Outcomes []Outcome

	// RatePercent is the classification rate when the reporting stage ran
	// and succeeded; EvalErr holds its failure otherwise.
	RatePercent float64
	EvalErr     error
}

// Count returns how many outcomes carry the given status.
func (r *RunReport) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// RunBatch executes the full pipeline described by config. The returned
// error is fatal setup failure or cancellation; per-prompt generation
// failures and reporting failures are recorded in the RunReport instead.
func RunBatch(ctx context.Context, zl *zap.Logger, config Config) (*RunReport, error) {
	zl = zl.Named("genscore")
	zl.Info("Starting batch run", zap.Any("config", config))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if config.MetricsPort > 0 {
		serveMetrics(config.MetricsPort, zl)
	}

	items, err := prompts.LoadFile(config.PromptsPath)
	if err != nil {
		return nil, err
	}
	zl.Info("Prompts loaded", zap.String("path", config.PromptsPath), zap.Int("count", len(items)))

	proc, m, err := model.Load(ctx, config.ModelDir, zl.Named("model"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			zl.Warn("Failed to close model", zap.Error(cerr))
		}
	}()

	var patch *model.Patch
	if config.FinetunePath != "" {
		patch, err = model.LoadPatch(config.FinetunePath, m, config.PatchLayers, zl.Named("finetune"))
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	s := sampler.New(m, proc.Config.PadTokenID, rng, zl.Named("sampler"))
	tpl := proc.Template()

	generate := func(ctx context.Context, index int, prompt string) error {
		tokens := proc.Encode(tpl.RenderForImage(prompt))
		run := func() error {
			return s.Generate(ctx, tokens, config.OutputDir, index, config.Sampling)
		}
		if patch != nil {
			return patch.Scope(run)
		}
		return run()
	}

	report, err := runLoop(ctx, items, config.OutputDir, generate, zl)
	if err != nil {
		return report, err
	}

	if !config.SkipEval {
		rate, err := Report(ctx, zl, config)
		if err != nil {
			zl.Error("Reporting stage failed", zap.Error(err))
			report.EvalErr = err
		} else {
			report.RatePercent = rate.Percent()
		}
	}
	return report, nil
}

// runLoop walks the prompt list in order. An existing output file marks the
// prompt as already generated and is never overwritten; a failed generation
// is recorded and the loop continues with the next prompt.
func runLoop(ctx context.Context, items []prompts.Item, outputDir string,
	generate func(ctx context.Context, index int, prompt string) error, zl *zap.Logger) (*RunReport, error) {

	report := &RunReport{Outcomes: make([]Outcome, 0, len(items))}
	bar := progressbar.New(len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome := Outcome{Index: i, Prompt: item.Prompt, Status: StatusPending}
		path := filepath.Join(outputDir, fmt.Sprintf("%d.png", i))
		if _, err := os.Stat(path); err == nil {
			outcome.Status = StatusSkipped
			zl.Debug("Output exists, skipping", zap.Int("index", i), zap.String("path", path))
		} else if err := generate(ctx, i, item.Prompt); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			outcome.Status = StatusFailed
			outcome.Err = err
			zl.Error("Generation failed",
				zap.Int("index", i),
				zap.String("prompt", item.Prompt),
				zap.Error(err))
		} else {
			outcome.Status = StatusDone
		}

		generationOps.WithLabelValues(string(outcome.Status)).Inc()
		report.Outcomes = append(report.Outcomes, outcome)
		_ = bar.Add(1)
	}

	zl.Info("Batch complete",
		zap.Int("done", report.Count(StatusDone)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Int("failed", report.Count(StatusFailed)))
	return report, nil
}

// serveMetrics exposes the Prometheus registry for the duration of the run.
func serveMetrics(port int, zl *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		zl.Info("Serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			zl.Warn("Metrics listener stopped", zap.Error(err))
		}
	}()
}
