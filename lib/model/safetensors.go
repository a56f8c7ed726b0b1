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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/bytedance/sonic"
	"github.com/x448/float16"
)

// tensorHeader describes one tensor entry in a safetensors header.
type tensorHeader struct {
	Dtype       string  `json:"dtype"`
	Shape       []int64 `json:"shape"`
	DataOffsets [2]int  `json:"data_offsets"`
}

// Checkpoint is a parsed safetensors file: tensor metadata plus the raw
// data block. Tensors are materialized lazily via Float32.
type Checkpoint struct {
	headers map[string]tensorHeader
	data    []byte
}

// OpenCheckpoint reads and parses a safetensors file.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("checkpoint too small: %d bytes", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("checkpoint header length %d exceeds file size %d", headerLen, len(data))
	}

	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("parsing checkpoint header: %w", err)
	}

	headers := make(map[string]tensorHeader, len(raw))
	for name, entry := range raw {
		// __metadata__ carries free-form strings, not a tensor.
		if name == "__metadata__" {
			continue
		}
		var h tensorHeader
		if err := sonic.Unmarshal(entry, &h); err != nil {
			return nil, fmt.Errorf("parsing tensor %q: %w", name, err)
		}
		headers[name] = h
	}

	return &Checkpoint{headers: headers, data: data[8+headerLen:]}, nil
}

// Names returns the tensor names present in the checkpoint.
func (c *Checkpoint) Names() []string {
	names := make([]string, 0, len(c.headers))
	for name := range c.headers {
		names = append(names, name)
	}
	return names
}

// Float32 materializes the named tensor as float32, converting from F16 or
// BF16 storage when necessary. The header's offsets are untrusted: they must
// lie inside the data block and match the byte count the shape and dtype
// imply, otherwise the checkpoint is malformed.
func (c *Checkpoint) Float32(name string) (Tensor, error) {
	h, ok := c.headers[name]
	if !ok {
		return Tensor{}, fmt.Errorf("tensor %q not found in checkpoint", name)
	}

	numel := 1
	for _, d := range h.Shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("%w: tensor %q has negative dimension %d", ErrShapeMismatch, name, d)
		}
		numel *= int(d)
	}

	var itemSize int
	switch h.Dtype {
	case "F32":
		itemSize = 4
	case "F16", "BF16":
		itemSize = 2
	default:
		return Tensor{}, fmt.Errorf("unsupported dtype %q for tensor %q", h.Dtype, name)
	}

	start, end := h.DataOffsets[0], h.DataOffsets[1]
	if start < 0 || end < start || end > len(c.data) {
		return Tensor{}, fmt.Errorf("%w: tensor %q offsets [%d, %d) outside data block of %d bytes",
			ErrShapeMismatch, name, start, end, len(c.data))
	}
	if end-start != numel*itemSize {
		return Tensor{}, fmt.Errorf("%w: tensor %q holds %d bytes, shape %v needs %d",
			ErrShapeMismatch, name, end-start, h.Shape, numel*itemSize)
	}

	raw := c.data[start:end]
	out := make([]float32, numel)

	switch h.Dtype {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F16":
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		// bfloat16 is the top half of a float32.
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	}

	return Tensor{Shape: h.Shape, Data: out}, nil
}
