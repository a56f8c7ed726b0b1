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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockHost records adapter activation transitions. When wantElems is set,
// installing a delta with a different element count fails the way a graph
// with fixed adapter inputs would.
type mockHost struct {
	active    *Adapter
	history   []bool
	setErr    error
	setNilErr error
	setCalls  int
	wantElems map[string]int
}

func (m *mockHost) Prefill(context.Context, [][]int32) ([][]float32, *KVCache, error) {
	return nil, nil, nil
}

func (m *mockHost) Step(context.Context, []int32, *KVCache) ([][]float32, *KVCache, error) {
	return nil, nil, nil
}

func (m *mockHost) Close() error { return nil }

func (m *mockHost) SetAdapter(a *Adapter) error {
	m.setCalls++
	if a != nil && m.setErr != nil {
		return m.setErr
	}
	if a == nil && m.setNilErr != nil {
		return m.setNilErr
	}
	if a != nil && m.wantElems != nil {
		for name, delta := range a.Deltas {
			if want, ok := m.wantElems[name]; !ok || want != len(delta.Data) {
				return fmt.Errorf("%w: delta %q has %d elements", ErrShapeMismatch, name, len(delta.Data))
			}
		}
	}
	m.active = a
	m.history = append(m.history, a != nil)
	return nil
}

// plainBackbone has no adapter support.
type plainBackbone struct{}

func (plainBackbone) Prefill(context.Context, [][]int32) ([][]float32, *KVCache, error) {
	return nil, nil, nil
}

func (plainBackbone) Step(context.Context, []int32, *KVCache) ([][]float32, *KVCache, error) {
	return nil, nil, nil
}

func (plainBackbone) Close() error { return nil }

func writePatchCheckpoint(t *testing.T, names ...string) string {
	t.Helper()
	tensors := make(map[string]testTensor, len(names))
	for _, name := range names {
		tensors[name] = testTensor{dtype: "F32", shape: []int64{2}, values: []float32{0.1, -0.1}}
	}
	path := filepath.Join(t.TempDir(), "finetune.safetensors")
	writeSafetensors(t, path, tensors)
	return path
}

func TestLoadPatch(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	path := writePatchCheckpoint(t,
		"layers.25.self_attn.q_proj.weight",
		"layers.29.mlp.gate_proj.weight")

	patch, err := LoadPatch(path, m, 5, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 25, patch.adapter.FirstLayer)
	assert.Equal(t, 29, patch.adapter.LastLayer)
	assert.Len(t, patch.adapter.Deltas, 2)

	// Loading validates against the backbone but leaves nothing active.
	assert.Nil(t, host.active)
}

func TestLoadPatchRejectsWrongSizedDelta(t *testing.T) {
	// Checkpoint deltas hold 2 elements; the backbone expects 4.
	host := &mockHost{wantElems: map[string]int{"layers.29.w": 4}}
	m := &Model{Backbone: host, NumLayers: 30}
	path := writePatchCheckpoint(t, "layers.29.w")

	_, err := LoadPatch(path, m, 5, zap.NewNop())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadPatchDefaultsLayerCount(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	path := writePatchCheckpoint(t, "layers.25.w")

	patch, err := LoadPatch(path, m, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 30-DefaultPatchLayers, patch.adapter.FirstLayer)
}

func TestLoadPatchRejectsOutOfWindowLayer(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	path := writePatchCheckpoint(t, "layers.3.self_attn.q_proj.weight")

	_, err := LoadPatch(path, m, 5, zap.NewNop())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadPatchRejectsNonLayerTensor(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	path := writePatchCheckpoint(t, "embed_tokens.weight")

	_, err := LoadPatch(path, m, 5, zap.NewNop())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoadPatchRejectsUnsupportedBackbone(t *testing.T) {
	m := &Model{Backbone: plainBackbone{}, NumLayers: 30}
	path := writePatchCheckpoint(t, "layers.29.w")

	_, err := LoadPatch(path, m, 5, zap.NewNop())
	assert.ErrorIs(t, err, ErrAdapterNotSupported)
}

func TestScopeActivatesAndDeactivates(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	patch, err := LoadPatch(writePatchCheckpoint(t, "layers.29.w"), m, 5, zap.NewNop())
	require.NoError(t, err)
	host.history = nil

	var activeDuring bool
	require.NoError(t, patch.Scope(func() error {
		activeDuring = host.active != nil
		return nil
	}))

	assert.True(t, activeDuring)
	assert.Nil(t, host.active)
	assert.Equal(t, []bool{true, false}, host.history)
}

func TestScopeDeactivatesOnError(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	patch, err := LoadPatch(writePatchCheckpoint(t, "layers.29.w"), m, 5, zap.NewNop())
	require.NoError(t, err)

	boom := errors.New("generation failed")
	assert.ErrorIs(t, patch.Scope(func() error { return boom }), boom)
	assert.Nil(t, host.active)
}

func TestScopeDeactivatesOnPanic(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	patch, err := LoadPatch(writePatchCheckpoint(t, "layers.29.w"), m, 5, zap.NewNop())
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = patch.Scope(func() error { panic("boom") })
	})
	assert.Nil(t, host.active)
}

func TestScopeActivationFailure(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	patch, err := LoadPatch(writePatchCheckpoint(t, "layers.29.w"), m, 5, zap.NewNop())
	require.NoError(t, err)

	host.setErr = errors.New("no adapter slots")
	ran := false
	err = patch.Scope(func() error { ran = true; return nil })
	assert.ErrorContains(t, err, "activating fine-tune patch")
	assert.False(t, ran)
}

func TestScopeDeactivationFailureDoesNotMaskResult(t *testing.T) {
	host := &mockHost{}
	m := &Model{Backbone: host, NumLayers: 30}
	patch, err := LoadPatch(writePatchCheckpoint(t, "layers.29.w"), m, 5, zap.NewNop())
	require.NoError(t, err)

	host.setNilErr = errors.New("release failed")
	assert.NoError(t, patch.Scope(func() error { return nil }))
}
