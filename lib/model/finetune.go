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

package model

import (
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

// DefaultPatchLayers is how many trailing transformer layers a fine-tune
// checkpoint targets when the caller does not say otherwise.
const DefaultPatchLayers = 5

// Adapter holds the learned parameter deltas of a fine-tune checkpoint,
// keyed by the backbone parameter name they adjust.
type Adapter struct {
	Deltas map[string]Tensor

	// FirstLayer and LastLayer bound the targeted layer range (inclusive).
	FirstLayer int
	LastLayer  int
}

// Patch binds a loaded adapter to a backbone and controls its activation
// window. The deltas are only in effect between Scope's activation and its
// deferred deactivation; outside that window the backbone computes with its
// original weights.
type Patch struct {
	host    AdapterHost
	adapter *Adapter
	logger  *zap.Logger
}

// layerKeyRe extracts the layer index from checkpoint tensor names such as
// "layers.27.self_attn.q_proj.weight".
var layerKeyRe = regexp.MustCompile(`(?:^|\.)layers\.(\d+)\.`)

// LoadPatch reads a safetensors checkpoint of parameter deltas targeting
// the last numLayers layers of the backbone and binds it. The checkpoint is
// loaded exactly once per run. Tensors addressing layers outside the
// trailing window, deltas the backbone rejects, or a backbone without
// adapter support, are errors.
func LoadPatch(path string, m *Model, numLayers int, logger *zap.Logger) (*Patch, error) {
	host, ok := m.Backbone.(AdapterHost)
	if !ok {
		return nil, ErrAdapterNotSupported
	}
	if numLayers <= 0 {
		numLayers = DefaultPatchLayers
	}
	if numLayers > m.NumLayers {
		return nil, fmt.Errorf("%w: patch targets %d layers but model has %d",
			ErrShapeMismatch, numLayers, m.NumLayers)
	}

	ckpt, err := OpenCheckpoint(path)
	if err != nil {
		return nil, err
	}

	firstLayer := m.NumLayers - numLayers
	adapter := &Adapter{
		Deltas:     make(map[string]Tensor),
		FirstLayer: firstLayer,
		LastLayer:  m.NumLayers - 1,
	}

	for _, name := range ckpt.Names() {
		match := layerKeyRe.FindStringSubmatch(name)
		if match == nil {
			return nil, fmt.Errorf("%w: tensor %q does not address a layer", ErrShapeMismatch, name)
		}
		layer, err := strconv.Atoi(match[1])
		if err != nil || layer < firstLayer || layer >= m.NumLayers {
			return nil, fmt.Errorf("%w: tensor %q targets layer outside the last %d layers",
				ErrShapeMismatch, name, numLayers)
		}
		tensor, err := ckpt.Float32(name)
		if err != nil {
			return nil, err
		}
		adapter.Deltas[name] = tensor
	}

	if len(adapter.Deltas) == 0 {
		return nil, fmt.Errorf("%w: checkpoint %s holds no tensors", ErrShapeMismatch, path)
	}

	// Install the adapter once here so a checkpoint that does not fit the
	// backbone fails the run at load, not on the first generation.
	if err := host.SetAdapter(adapter); err != nil {
		return nil, fmt.Errorf("validating fine-tune patch against backbone: %w", err)
	}
	if err := host.SetAdapter(nil); err != nil {
		return nil, fmt.Errorf("deactivating fine-tune patch after validation: %w", err)
	}

	logger.Info("Fine-tune patch loaded",
		zap.String("path", path),
		zap.Int("tensors", len(adapter.Deltas)),
		zap.Int("first_layer", adapter.FirstLayer),
		zap.Int("last_layer", adapter.LastLayer))

	return &Patch{host: host, adapter: adapter, logger: logger}, nil
}

// Scope activates the patch, runs fn, and deactivates the patch again on
// every exit path, including an error or panic inside fn. Deactivation
// failures never mask fn's error; they are logged instead.
func (p *Patch) Scope(fn func() error) error {
	if err := p.host.SetAdapter(p.adapter); err != nil {
		return fmt.Errorf("activating fine-tune patch: %w", err)
	}
	defer func() {
		if err := p.host.SetAdapter(nil); err != nil {
			p.logger.Error("Failed to deactivate fine-tune patch", zap.Error(err))
		}
	}()
	return fn()
}
