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

// Package model loads a pretrained multimodal decoder and exposes the two
// primitives the sampler needs: an autoregressive Backbone that turns token
// batches into image-vocabulary logits, and a VisionDecoder that turns a
// finished image-token sequence into pixels.
//
// The concrete implementation runs ONNX graphs (see onnx.go); tests and
// alternative backends implement the same interfaces.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

var (
	// ErrModelNotFound indicates the model directory does not exist or is
	// missing required files.
	ErrModelNotFound = errors.New("model: model not found")

	// ErrShapeMismatch indicates checkpoint tensors do not match the model
	// architecture they are being applied to.
	ErrShapeMismatch = errors.New("model: checkpoint shape mismatch")

	// ErrAdapterNotSupported indicates the loaded backbone cannot host
	// fine-tune adapters.
	ErrAdapterNotSupported = errors.New("model: backbone does not support adapters")
)

// KVCache is the opaque attention state carried between autoregressive
// steps. Backends populate Tensors with their own naming scheme; SeqLen
// tracks how many positions the cache covers.
type KVCache struct {
	Tensors map[string]Tensor
	SeqLen  int
}

// Tensor is a flat float32 buffer with its shape.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NumElements returns the element count implied by the shape.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Backbone is the language model driven step-by-step by the sampler.
// Prefill consumes the full prompt batch once; Step feeds one sampled image
// token per row and reuses the cache. Both return logits over the image
// vocabulary for the last position of every row.
type Backbone interface {
	Prefill(ctx context.Context, tokens [][]int32) ([][]float32, *KVCache, error)
	Step(ctx context.Context, tokens []int32, cache *KVCache) ([][]float32, *KVCache, error)
	Close() error
}

// AdapterHost is implemented by backbones that can overlay fine-tune
// deltas on a subset of their layers. Setting nil clears the adapter.
type AdapterHost interface {
	SetAdapter(a *Adapter) error
}

// VisionDecoder maps a completed image-token sequence onto pixels.
// The returned buffer is CHW float32 in [-1, 1], grid*patch pixels square.
type VisionDecoder interface {
	DecodeCode(ctx context.Context, codes []int32, grid int) ([]float32, error)
	Close() error
}

// Model bundles the loaded backbone and vision decoder.
type Model struct {
	Backbone Backbone
	Decoder  VisionDecoder

	// NumLayers is the transformer layer count of the language backbone,
	// used to validate fine-tune checkpoints.
	NumLayers int
}

// Close releases both sessions. The first error wins.
func (m *Model) Close() error {
	err := m.Backbone.Close()
	if derr := m.Decoder.Close(); err == nil {
		err = derr
	}
	return err
}

// Load opens the model directory and constructs the processor and model.
// Load failures are fatal to the run and propagate to the caller.
func Load(ctx context.Context, modelDir string, logger *zap.Logger) (*Processor, *Model, error) {
	if _, err := os.Stat(modelDir); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelDir)
	}

	proc, err := LoadProcessor(modelDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading processor: %w", err)
	}

	m, err := loadONNXModel(ctx, modelDir, proc.Config, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading model: %w", err)
	}

	logger.Info("Model loaded",
		zap.String("dir", modelDir),
		zap.Int("num_layers", m.NumLayers),
		zap.Int("image_vocab", proc.Config.ImageVocabSize))

	return proc, m, nil
}

// findFile returns the first candidate that exists under dir, or "".
func findFile(dir string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
