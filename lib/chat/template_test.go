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

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderForImage(t *testing.T) {
	tpl := DefaultTemplate()

	got := tpl.RenderForImage("a stone church on a hill")
	want := "<|User|>: a stone church on a hill\n\n<|Assistant|>:<begin_of_image>"
	assert.Equal(t, want, got)
}

func TestRender_WithSystemPrompt(t *testing.T) {
	tpl := DefaultTemplate()
	tpl.SystemPrompt = "You are a helpful assistant."

	got := tpl.Render(tpl.Conversation("hello"))
	want := "You are a helpful assistant.\n\n<|User|>: hello\n\n<|Assistant|>:"
	assert.Equal(t, want, got)
}

func TestRender_EmptySystemPromptOmitted(t *testing.T) {
	tpl := DefaultTemplate()

	got := tpl.Render(tpl.Conversation("hello"))
	assert.Equal(t, "<|User|>: hello\n\n<|Assistant|>:", got)
}

func TestConversation_Shape(t *testing.T) {
	tpl := DefaultTemplate()

	turns := tpl.Conversation("p")
	assert.Len(t, turns, 2)
	assert.Equal(t, "<|User|>", turns[0].Role)
	assert.Equal(t, "p", turns[0].Content)
	assert.Equal(t, "<|Assistant|>", turns[1].Role)
	assert.Empty(t, turns[1].Content)
}

func TestRender_Deterministic(t *testing.T) {
	tpl := DefaultTemplate()
	a := tpl.RenderForImage("same prompt")
	b := tpl.RenderForImage("same prompt")
	assert.Equal(t, a, b)
}
