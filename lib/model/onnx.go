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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// The ONNX backend expects an exported merged decoder and a vision decoder
// in the model directory:
//
//   - language_model.onnx: inputs "input_ids" int64 [batch, seq],
//     "attention_mask" int64 [batch, total_seq], and per-layer
//     "past_key_values.N.key"/"past_key_values.N.value" float32
//     [batch, kv_heads, past_seq, head_dim]; outputs "logits" float32
//     [batch, seq, image_vocab] from the gen head plus the matching
//     "present.N.key"/"present.N.value" tensors. Graphs exported with
//     fine-tune support additionally declare additive-delta inputs named
//     "adapter.<parameter>"; feeding zeros reproduces the base weights.
//   - gen_vision_decoder.onnx: input int64 [batch, tokens]; output float32
//     [batch, 3, H, W] pixels in [-1, 1].
//
// Guidance and softmax run downstream on the logits in the precision the
// graphs were exported with (float32 here).

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initONNXRuntime locates libonnxruntime and initializes the environment.
// Called once per process; all sessions share the environment.
func initONNXRuntime() error {
	ortInitOnce.Do(func() {
		if path := os.Getenv("GENSCORE_ORT_LIB"); path != "" {
			ort.SetSharedLibraryPath(path)
		} else if path := findORTLibrary(); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// findORTLibrary looks for libonnxruntime in common install locations.
func findORTLibrary() string {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	default:
		candidates = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// onnxArchConfig is the subset of config.json the cache plumbing needs.
type onnxArchConfig struct {
	NumHiddenLayers int `json:"num_hidden_layers"`
	NumKVHeads      int `json:"num_key_value_heads"`
	NumHeads        int `json:"num_attention_heads"`
	HiddenSize      int `json:"hidden_size"`
}

// onnxBackbone drives the merged decoder graph step by step.
type onnxBackbone struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string

	numLayers int
	kvHeads   int
	headDim   int
	vocabSize int

	// adapterInputs maps adapter graph-input names to their static shapes.
	adapterInputs map[string][]int64
	adapter       *Adapter

	logger *zap.Logger
}

// onnxVisionDecoder maps image-token codes to pixels.
type onnxVisionDecoder struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

// loadONNXModel builds the backbone and vision decoder sessions from the
// exported graphs in modelDir.
func loadONNXModel(ctx context.Context, modelDir string, pcfg ProcessorConfig, logger *zap.Logger) (*Model, error) {
	if err := initONNXRuntime(); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	arch := onnxArchConfig{NumHiddenLayers: pcfg.NumLayers}
	if data, err := os.ReadFile(filepath.Join(modelDir, "config.json")); err == nil {
		if err := sonic.Unmarshal(data, &arch); err != nil {
			return nil, fmt.Errorf("parsing config.json: %w", err)
		}
	}
	if arch.NumKVHeads == 0 {
		arch.NumKVHeads = arch.NumHeads
	}
	headDim := 0
	if arch.NumHeads > 0 {
		headDim = arch.HiddenSize / arch.NumHeads
	}

	backbonePath := findFile(modelDir, []string{
		"language_model.onnx",
		"decoder_model_merged.onnx",
		"model.onnx",
	})
	if backbonePath == "" {
		return nil, fmt.Errorf("%w: no decoder graph in %s", ErrModelNotFound, modelDir)
	}
	decoderPath := findFile(modelDir, []string{
		"gen_vision_decoder.onnx",
		"vision_decoder.onnx",
	})
	if decoderPath == "" {
		return nil, fmt.Errorf("%w: no vision decoder graph in %s", ErrModelNotFound, modelDir)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	backbone, err := newONNXBackbone(backbonePath, arch, headDim, pcfg.ImageVocabSize, opts, logger.Named("backbone"))
	if err != nil {
		return nil, err
	}

	vision, err := newONNXVisionDecoder(decoderPath, opts)
	if err != nil {
		_ = backbone.Close()
		return nil, err
	}

	return &Model{
		Backbone:  backbone,
		Decoder:   vision,
		NumLayers: arch.NumHiddenLayers,
	}, nil
}

func newONNXBackbone(path string, arch onnxArchConfig, headDim, vocabSize int, opts *ort.SessionOptions, logger *zap.Logger) (*onnxBackbone, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}

	b := &onnxBackbone{
		numLayers:     arch.NumHiddenLayers,
		kvHeads:       arch.NumKVHeads,
		headDim:       headDim,
		vocabSize:     vocabSize,
		adapterInputs: make(map[string][]int64),
		logger:        logger,
	}
	for _, in := range inputs {
		b.inputNames = append(b.inputNames, in.Name)
		if strings.HasPrefix(in.Name, "adapter.") {
			b.adapterInputs[in.Name] = in.Dimensions
		}
	}
	for _, out := range outputs {
		b.outputNames = append(b.outputNames, out.Name)
	}

	b.session, err = ort.NewDynamicAdvancedSession(path, b.inputNames, b.outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("creating decoder session: %w", err)
	}

	logger.Info("Decoder graph loaded",
		zap.String("path", path),
		zap.Int("layers", b.numLayers),
		zap.Int("adapter_inputs", len(b.adapterInputs)))
	return b, nil
}

// SetAdapter installs or clears the fine-tune deltas fed to the graph's
// adapter inputs. Installing validates every delta against the graph.
func (b *onnxBackbone) SetAdapter(a *Adapter) error {
	if a == nil {
		b.adapter = nil
		return nil
	}
	if len(b.adapterInputs) == 0 {
		return ErrAdapterNotSupported
	}
	for name, delta := range a.Deltas {
		inputName := "adapter." + name
		shape, ok := b.adapterInputs[inputName]
		if !ok {
			return fmt.Errorf("%w: graph declares no input %q", ErrShapeMismatch, inputName)
		}
		if n := numElements(shape); n != len(delta.Data) {
			return fmt.Errorf("%w: %q has %d elements, graph expects %d",
				ErrShapeMismatch, name, len(delta.Data), n)
		}
	}
	b.adapter = a
	return nil
}

// Prefill runs the full prompt batch through the graph with an empty cache.
func (b *onnxBackbone) Prefill(ctx context.Context, tokens [][]int32) ([][]float32, *KVCache, error) {
	return b.run(ctx, tokens, &KVCache{Tensors: map[string]Tensor{}})
}

// Step feeds one token per row, reusing the cache from the previous step.
func (b *onnxBackbone) Step(ctx context.Context, tokens []int32, cache *KVCache) ([][]float32, *KVCache, error) {
	rows := make([][]int32, len(tokens))
	for i, tok := range tokens {
		rows[i] = []int32{tok}
	}
	return b.run(ctx, rows, cache)
}

func (b *onnxBackbone) run(ctx context.Context, rows [][]int32, cache *KVCache) ([][]float32, *KVCache, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	batch := len(rows)
	seq := len(rows[0])
	totalSeq := cache.SeqLen + seq

	ids := make([]int64, 0, batch*seq)
	for _, row := range rows {
		if len(row) != seq {
			return nil, nil, fmt.Errorf("ragged token batch: %d vs %d", len(row), seq)
		}
		for _, tok := range row {
			ids = append(ids, int64(tok))
		}
	}
	mask := make([]int64, batch*totalSeq)
	for i := range mask {
		mask[i] = 1
	}

	inputs := make([]ort.Value, 0, len(b.inputNames))
	var cleanup []ort.Value
	defer func() {
		for _, v := range cleanup {
			_ = v.Destroy()
		}
	}()

	for _, name := range b.inputNames {
		var (
			value ort.Value
			err   error
		)
		switch {
		case name == "input_ids":
			value, err = ort.NewTensor(ort.NewShape(int64(batch), int64(seq)), ids)
		case name == "attention_mask":
			value, err = ort.NewTensor(ort.NewShape(int64(batch), int64(totalSeq)), mask)
		case strings.HasPrefix(name, "past_key_values."):
			value, err = b.pastTensor(name, cache, batch)
		case strings.HasPrefix(name, "adapter."):
			value, err = b.adapterTensor(name)
		default:
			return nil, nil, fmt.Errorf("unhandled decoder input %q", name)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("building input %q: %w", name, err)
		}
		cleanup = append(cleanup, value)
		inputs = append(inputs, value)
	}

	outputs := make([]ort.Value, len(b.outputNames))
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, nil, fmt.Errorf("running decoder: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	var logits [][]float32
	next := &KVCache{Tensors: make(map[string]Tensor, 2*b.numLayers), SeqLen: totalSeq}

	for i, name := range b.outputNames {
		t, ok := outputs[i].(*ort.Tensor[float32])
		if !ok {
			return nil, nil, fmt.Errorf("output %q is not float32", name)
		}
		shape := t.GetShape()
		data := t.GetData()

		switch {
		case name == "logits":
			logits = lastPositionLogits(data, shape)
		case strings.HasPrefix(name, "present."):
			// present.N.key feeds past_key_values.N.key next step.
			key := "past_key_values." + strings.TrimPrefix(name, "present.")
			buf := make([]float32, len(data))
			copy(buf, data)
			dims := make([]int64, len(shape))
			copy(dims, shape)
			next.Tensors[key] = Tensor{Shape: dims, Data: buf}
		}
	}

	if logits == nil {
		return nil, nil, fmt.Errorf("decoder graph produced no logits output")
	}
	return logits, next, nil
}

// pastTensor builds the cache input for one layer: the stored tensor, or a
// zero-length placeholder on the first step.
func (b *onnxBackbone) pastTensor(name string, cache *KVCache, batch int) (ort.Value, error) {
	if t, ok := cache.Tensors[name]; ok {
		return ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	}
	shape := ort.NewShape(int64(batch), int64(b.kvHeads), 0, int64(b.headDim))
	return ort.NewEmptyTensor[float32](shape)
}

// adapterTensor feeds the installed delta for an adapter input, or zeros
// when no patch is active (additive deltas of zero leave the base weights).
func (b *onnxBackbone) adapterTensor(name string) (ort.Value, error) {
	shape := b.adapterInputs[name]
	if b.adapter != nil {
		if delta, ok := b.adapter.Deltas[strings.TrimPrefix(name, "adapter.")]; ok {
			return ort.NewTensor(ort.NewShape(shape...), delta.Data)
		}
	}
	zeros := make([]float32, numElements(shape))
	return ort.NewTensor(ort.NewShape(shape...), zeros)
}

// lastPositionLogits slices [batch, seq, vocab] logits down to the final
// position of each row.
func lastPositionLogits(data []float32, shape []int64) [][]float32 {
	batch, seq, vocab := int(shape[0]), int(shape[1]), int(shape[2])
	out := make([][]float32, batch)
	for row := 0; row < batch; row++ {
		start := (row*seq + (seq - 1)) * vocab
		buf := make([]float32, vocab)
		copy(buf, data[start:start+vocab])
		out[row] = buf
	}
	return out
}

func (b *onnxBackbone) Close() error {
	if b.session != nil {
		return b.session.Destroy()
	}
	return nil
}

func newONNXVisionDecoder(path string, opts *ort.SessionOptions) (*onnxVisionDecoder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("vision decoder %s: expected 1 input and 1 output, got %d/%d",
			path, len(inputs), len(outputs))
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("creating vision decoder session: %w", err)
	}
	return &onnxVisionDecoder{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

// DecodeCode maps the generated image tokens onto pixels in [-1, 1].
func (d *onnxVisionDecoder) DecodeCode(ctx context.Context, codes []int32, grid int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(codes) != grid*grid {
		return nil, fmt.Errorf("expected %d codes for a %dx%d grid, got %d", grid*grid, grid, grid, len(codes))
	}

	ids := make([]int64, len(codes))
	for i, c := range codes {
		ids[i] = int64(c)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(ids))), ids)
	if err != nil {
		return nil, fmt.Errorf("building codes tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := make([]ort.Value, 1)
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("running vision decoder: %w", err)
	}
	defer func() { _ = outputs[0].Destroy() }()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("vision decoder output %q is not float32", d.outputName)
	}
	data := t.GetData()
	pixels := make([]float32, len(data))
	copy(pixels, data)
	return pixels, nil
}

func (d *onnxVisionDecoder) Close() error {
	if d.session != nil {
		return d.session.Destroy()
	}
	return nil
}

func numElements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
