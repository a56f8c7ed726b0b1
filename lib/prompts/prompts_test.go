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

package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesOrder(t *testing.T) {
	data := []byte(`[
		{"prompt": "a church on a hill"},
		{"prompt": "a gothic cathedral at dusk", "tags": ["extra"]},
		{"prompt": "a small village chapel"}
	]`)

	items, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a church on a hill", items[0].Prompt)
	assert.Equal(t, "a gothic cathedral at dusk", items[1].Prompt)
	assert.Equal(t, "a small village chapel", items[2].Prompt)
}

func TestParse_MissingPromptField(t *testing.T) {
	data := []byte(`[{"prompt": "ok"}, {"caption": "no prompt here"}]`)

	_, err := Parse(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt 1")
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"prompt": "not an array"`))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"prompt": "a church"}]`), 0o644))

	items, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a church", items[0].Prompt)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
