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

// Command genscore runs batch text-to-image generation and scores the
// output with an external classifier.
//
// Usage:
//
//	genscore run --prompts church_prompts.json --model-dir models/janus-pro-1b
//	genscore report --folder generated_samples       # Rate from existing results
//	genscore pull deepseek-ai/Janus-Pro-1B           # Download a model from the HF hub
//	genscore list                                    # List local models
package main

import (
	"github.com/plinth-ai/genscore/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
//
// By default, GoReleaser will set the following 3 ldflags:
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the snapshot, if you're using the --snapshot flag
var version = "dev"

func main() {
	cmd.Version = version
	cmd.Execute()
}
