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

// Package prompts loads the ordered prompt list that drives a generation run.
// A prompt's identity is its position in the file: index N always produces
// output file N.png, across runs.
package prompts

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

// Item is a single entry in the prompt file. Extra fields in the JSON are
// ignored; only the prompt text matters for generation.
type Item struct {
	Prompt string `json:"prompt"`
}

// LoadFile reads a JSON array of prompt items from path.
// Order is preserved: the slice index is the prompt's stable identity.
func LoadFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON array of prompt items.
func Parse(data []byte) ([]Item, error) {
	var items []Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing prompt file: %w", err)
	}
	for i, item := range items {
		if item.Prompt == "" {
			return nil, fmt.Errorf("prompt %d: empty or missing prompt field", i)
		}
	}
	return items, nil
}
