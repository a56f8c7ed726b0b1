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
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"

	"github.com/plinth-ai/genscore/lib/chat"
)

// ProcessorConfig holds the pieces of processor_config.json the generation
// path needs: the chat serialization and the special token IDs.
type ProcessorConfig struct {
	SystemPrompt  string `json:"system_prompt"`
	UserTag       string `json:"user_tag"`
	AssistantTag  string `json:"assistant_tag"`
	ImageStartTag string `json:"image_start_tag"`

	// PadTokenID replaces the interior of the unconditional row in the
	// classifier-free-guidance batch.
	PadTokenID int32 `json:"pad_token_id"`

	// ImageVocabSize is the size of the discrete image-token vocabulary
	// the gen head predicts over.
	ImageVocabSize int `json:"image_vocab_size"`

	// NumLayers is the language backbone's transformer layer count.
	NumLayers int `json:"num_hidden_layers"`
}

// defaultProcessorConfig matches the Janus-Pro family.
func defaultProcessorConfig() ProcessorConfig {
	tpl := chat.DefaultTemplate()
	return ProcessorConfig{
		UserTag:        tpl.UserTag,
		AssistantTag:   tpl.AssistantTag,
		ImageStartTag:  tpl.ImageStartTag,
		PadTokenID:     100002,
		ImageVocabSize: 16384,
		NumLayers:      30,
	}
}

// Processor pairs the model's tokenizer with its chat template.
type Processor struct {
	Config    ProcessorConfig
	Tokenizer tokenizers.Tokenizer
}

// LoadProcessor reads processor_config.json (falling back to family
// defaults for absent fields) and the HuggingFace tokenizer.json from the
// model directory.
func LoadProcessor(modelDir string) (*Processor, error) {
	cfg := defaultProcessorConfig()
	configPath := filepath.Join(modelDir, "processor_config.json")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := sonic.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing processor_config.json: %w", err)
		}
	}

	var tokConfig *api.Config
	tokConfigPath := filepath.Join(modelDir, "tokenizer_config.json")
	if content, err := os.ReadFile(tokConfigPath); err == nil {
		tokConfig, err = api.ParseConfigContent(content)
		if err != nil {
			return nil, fmt.Errorf("parsing tokenizer config: %w", err)
		}
		tokConfig.ConfigFile = tokConfigPath
	}

	tokenizerPath := filepath.Join(modelDir, "tokenizer.json")
	if _, err := os.Stat(tokenizerPath); err != nil {
		return nil, fmt.Errorf("%w: no tokenizer.json in %s", ErrModelNotFound, modelDir)
	}
	tok, err := hftokenizer.NewFromFile(tokConfig, tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}

	return &Processor{Config: cfg, Tokenizer: tok}, nil
}

// Template returns the chat template configured for this processor.
func (p *Processor) Template() chat.Template {
	return chat.Template{
		SystemPrompt:  p.Config.SystemPrompt,
		UserTag:       p.Config.UserTag,
		AssistantTag:  p.Config.AssistantTag,
		Separator:     "\n\n",
		ImageStartTag: p.Config.ImageStartTag,
	}
}

// Encode tokenizes text into int32 IDs.
func (p *Processor) Encode(text string) []int32 {
	ids := p.Tokenizer.Encode(text)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
