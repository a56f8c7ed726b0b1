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

package genscore

import (
	"fmt"

	"github.com/plinth-ai/genscore/lib/eval"
	"github.com/plinth-ai/genscore/lib/sampler"
)

// Config drives one batch run: where the prompts and model live, where the
// images go, and how the classifier is invoked afterwards.
type Config struct {
	// PromptsPath is the JSON file holding the ordered prompt list.
	PromptsPath string
	// ModelDir holds the exported model graphs, tokenizer and configs.
	ModelDir string
	// OutputDir receives one <index>.png per prompt.
	OutputDir string

	// FinetunePath optionally points at a safetensors checkpoint of
	// parameter deltas. Empty means the base weights run unpatched.
	FinetunePath string
	// PatchLayers is how many trailing backbone layers the checkpoint
	// targets. Zero selects the default.
	PatchLayers int

	// Seed feeds the run's single random source.
	Seed int64

	// Sampling holds the per-image generation parameters.
	Sampling sampler.Params

	// Eval is the external classifier invocation; Target is the category
	// counted in the final rate. SkipEval generates images only.
	Eval     eval.Command
	Target   string
	SkipEval bool

	// MetricsPort exposes Prometheus metrics while the batch runs.
	// Zero disables the listener.
	MetricsPort int
}

// DefaultConfig returns a Config with the stock generation and
// classification settings filled in.
func DefaultConfig() Config {
	return Config{
		OutputDir: "generated_samples",
		Seed:      42,
		Sampling:  sampler.DefaultParams(),
		Eval:      eval.DefaultCommand(),
		Target:    "church",
	}
}

// Validate rejects configs the run loop cannot honor.
func (c Config) Validate() error {
	if c.PromptsPath == "" {
		return fmt.Errorf("prompts path is required")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("model dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir is required")
	}
	if !c.SkipEval && c.Target == "" {
		return fmt.Errorf("target category is required unless eval is skipped")
	}
	if err := c.Sampling.Validate(); err != nil {
		return fmt.Errorf("sampling params: %w", err)
	}
	return nil
}
