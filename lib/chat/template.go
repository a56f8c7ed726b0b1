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

// Package chat renders chat turns into the serialized prompt string a
// multimodal decoder expects. It is a pure string transformation; role tags
// and the image-start marker come from the model's processor config.
package chat

import "strings"

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role    string
	Content string
}

// Template describes how a model family serializes a conversation.
type Template struct {
	// SystemPrompt is prepended before the first turn when non-empty.
	SystemPrompt string
	// UserTag and AssistantTag are the literal role markers, e.g. "<|User|>".
	UserTag      string
	AssistantTag string
	// Separator joins the system prompt and the turns.
	Separator string
	// ImageStartTag is appended by RenderForImage to switch the decoder
	// into image-token generation, e.g. "<begin_of_image>".
	ImageStartTag string
}

// DefaultTemplate returns the serialization used by the Janus family of
// multimodal decoders: no system prompt, turns joined by blank lines.
func DefaultTemplate() Template {
	return Template{
		UserTag:       "<|User|>",
		AssistantTag:  "<|Assistant|>",
		Separator:     "\n\n",
		ImageStartTag: "<begin_of_image>",
	}
}

// Conversation wraps a raw prompt into the two-turn structure the model
// expects: a user turn holding the prompt and an empty assistant turn.
func (t Template) Conversation(prompt string) []Turn {
	return []Turn{
		{Role: t.UserTag, Content: prompt},
		{Role: t.AssistantTag, Content: ""},
	}
}

// Render serializes turns using the template. Each turn becomes
// "<role>: <content>"; a turn with empty content ends at the colon, which
// leaves the final assistant slot open for generation.
func (t Template) Render(turns []Turn) string {
	parts := make([]string, 0, len(turns)+1)
	if t.SystemPrompt != "" {
		parts = append(parts, t.SystemPrompt)
	}
	for _, turn := range turns {
		if turn.Content == "" {
			parts = append(parts, turn.Role+":")
			continue
		}
		parts = append(parts, turn.Role+": "+turn.Content)
	}
	return strings.Join(parts, t.Separator)
}

// RenderForImage formats a raw prompt for image generation: the two-turn
// conversation followed by the image-start marker.
func (t Template) RenderForImage(prompt string) string {
	return t.Render(t.Conversation(prompt)) + t.ImageStartTag
}
