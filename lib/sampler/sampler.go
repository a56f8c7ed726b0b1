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

// Package sampler performs classifier-free-guided autoregressive sampling
// of discrete image tokens and decodes them into a PNG on disk.
package sampler

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ajroetker/go-highway/hwy/contrib/nn"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/plinth-ai/genscore/lib/model"
)

var samplingSteps = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "plinth",
		Subsystem: "genscore",
		Name:      "sampling_steps_total",
		Help:      "The total number of autoregressive image-token sampling steps.",
	},
)

func init() {
	prometheus.MustRegister(samplingSteps)
}

// Params holds the knobs of one generation request.
type Params struct {
	// CFGWeight blends conditional and unconditional logits:
	// uncond + CFGWeight * (cond - uncond).
	CFGWeight float32
	// Temperature scales logits before the softmax.
	Temperature float32
	// ImageTokens is the fixed number of tokens sampled per image.
	ImageTokens int
	// ImageSize and PatchSize determine the decode grid (ImageSize/PatchSize).
	ImageSize int
	PatchSize int
	// ParallelSize is the conditional batch width. Only 1 is supported:
	// each prompt index maps to exactly one output file.
	ParallelSize int
}

// DefaultParams returns the generation defaults.
func DefaultParams() Params {
	return Params{
		CFGWeight:    5,
		Temperature:  1,
		ImageTokens:  576,
		ImageSize:    384,
		PatchSize:    16,
		ParallelSize: 1,
	}
}

// Validate rejects parameter combinations the save path cannot honor.
func (p Params) Validate() error {
	if p.ParallelSize != 1 {
		return fmt.Errorf("parallel size %d not supported: one output file per prompt index", p.ParallelSize)
	}
	grid := p.ImageSize / p.PatchSize
	if p.ImageTokens != grid*grid {
		return fmt.Errorf("image tokens %d do not fill a %dx%d grid", p.ImageTokens, grid, grid)
	}
	if p.Temperature <= 0 {
		return fmt.Errorf("temperature must be positive, got %v", p.Temperature)
	}
	return nil
}

// Sampler drives a Backbone step by step and decodes the result.
// The random source is injected so a run seeded once at process start is
// reproducible without global state.
type Sampler struct {
	backbone model.Backbone
	decoder  model.VisionDecoder
	padID    int32
	rng      *rand.Rand
	logger   *zap.Logger
}

// New creates a Sampler.
func New(m *model.Model, padID int32, rng *rand.Rand, logger *zap.Logger) *Sampler {
	return &Sampler{
		backbone: m.Backbone,
		decoder:  m.Decoder,
		padID:    padID,
		rng:      rng,
		logger:   logger,
	}
}

// Generate samples one image for the formatted prompt and writes it to
// saveDir/<index>.png. promptTokens is the already-formatted, tokenized
// prompt ending in the image-start marker.
func (s *Sampler) Generate(ctx context.Context, promptTokens []int32, saveDir string, index int, p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(promptTokens) < 2 {
		return fmt.Errorf("prompt too short: %d tokens", len(promptTokens))
	}

	// Doubled batch for classifier-free guidance: even rows conditional,
	// odd rows unconditional with the prompt interior replaced by pad
	// (first and last token survive so the sequence stays well-formed).
	rows := make([][]int32, p.ParallelSize*2)
	for i := range rows {
		row := make([]int32, len(promptTokens))
		copy(row, promptTokens)
		if i%2 != 0 {
			for j := 1; j < len(row)-1; j++ {
				row[j] = s.padID
			}
		}
		rows[i] = row
	}

	logits, cache, err := s.backbone.Prefill(ctx, rows)
	if err != nil {
		return fmt.Errorf("prefill: %w", err)
	}

	generated := make([]int32, p.ImageTokens)
	for step := 0; step < p.ImageTokens; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tok, err := s.sampleGuided(logits, p)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		generated[step] = tok
		samplingSteps.Inc()

		// Feed the token back for both rows of each pair.
		next := make([]int32, len(rows))
		for i := range next {
			next[i] = tok
		}
		logits, cache, err = s.backbone.Step(ctx, next, cache)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
	}

	grid := p.ImageSize / p.PatchSize
	pixels, err := s.decoder.DecodeCode(ctx, generated, grid)
	if err != nil {
		return fmt.Errorf("decoding image tokens: %w", err)
	}

	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(saveDir, fmt.Sprintf("%d.png", index))
	if err := writePNG(path, pixels, p.ImageSize); err != nil {
		return fmt.Errorf("saving image: %w", err)
	}

	s.logger.Debug("Image written",
		zap.Int("index", index),
		zap.String("path", path),
		zap.Int("tokens", p.ImageTokens))
	return nil
}

// sampleGuided combines the conditional/unconditional logit pair, applies
// temperature softmax, and draws one token.
func (s *Sampler) sampleGuided(logits [][]float32, p Params) (int32, error) {
	if len(logits) < 2 {
		return 0, fmt.Errorf("expected conditional/unconditional logit pair, got %d rows", len(logits))
	}
	cond, uncond := logits[0], logits[1]
	if len(cond) != len(uncond) {
		return 0, fmt.Errorf("logit width mismatch: %d vs %d", len(cond), len(uncond))
	}

	guided := make([]float32, len(cond))
	for i := range guided {
		guided[i] = (uncond[i] + p.CFGWeight*(cond[i]-uncond[i])) / p.Temperature
	}

	probs := Softmax(guided)
	return Sample(probs, s.rng), nil
}

// Softmax applies softmax normalization using SIMD acceleration.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	probs := make([]float32, len(logits))
	nn.Softmax(logits, probs)
	return probs
}

// Sample draws one index from a probability distribution (multinomial with
// a single draw).
func Sample(probs []float32, rng *rand.Rand) int32 {
	r := rng.Float32()
	var cumSum float32
	for i, p := range probs {
		cumSum += p
		if r < cumSum {
			return int32(i)
		}
	}
	return int32(len(probs) - 1)
}
