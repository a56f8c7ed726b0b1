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

package genscore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plinth-ai/genscore/lib/prompts"
)

func testItems(n int) []prompts.Item {
	items := make([]prompts.Item, n)
	for i := range items {
		items[i] = prompts.Item{Prompt: fmt.Sprintf("prompt %d", i)}
	}
	return items
}

// touch writes a placeholder output file for the given prompt index.
func touch(t *testing.T, dir string, index int) {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%d.png", index))
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
}

func TestRunLoopAllDone(t *testing.T) {
	dir := t.TempDir()
	var generated []int
	generate := func(_ context.Context, index int, _ string) error {
		generated = append(generated, index)
		touch(t, dir, index)
		return nil
	}

	report, err := runLoop(context.Background(), testItems(3), dir, generate, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, generated)
	assert.Equal(t, 3, report.Count(StatusDone))
	assert.Equal(t, 0, report.Count(StatusFailed))
}

func TestRunLoopSkipsExistingOutputs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, 0)
	touch(t, dir, 2)

	var generated []int
	generate := func(_ context.Context, index int, _ string) error {
		generated = append(generated, index)
		return nil
	}

	report, err := runLoop(context.Background(), testItems(4), dir, generate, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, generated)
	assert.Equal(t, 2, report.Count(StatusSkipped))
	assert.Equal(t, 2, report.Count(StatusDone))

	// The pre-existing file is untouched.
	data, err := os.ReadFile(filepath.Join(dir, "0.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestRunLoopIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("session crashed")
	generate := func(_ context.Context, index int, _ string) error {
		if index == 3 {
			return boom
		}
		return nil
	}

	report, err := runLoop(context.Background(), testItems(5), dir, generate, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 5)
	assert.Equal(t, 4, report.Count(StatusDone))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Equal(t, StatusFailed, report.Outcomes[3].Status)
	assert.ErrorIs(t, report.Outcomes[3].Err, boom)
	assert.Equal(t, StatusDone, report.Outcomes[4].Status)
}

func TestRunLoopStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	generate := func(context.Context, int, string) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	}

	report, err := runLoop(ctx, testItems(5), t.TempDir(), generate, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Len(t, report.Outcomes, 2)
}

func TestRunLoopRecordsPromptText(t *testing.T) {
	generate := func(context.Context, int, string) error { return nil }
	report, err := runLoop(context.Background(), testItems(2), t.TempDir(), generate, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "prompt 1", report.Outcomes[1].Prompt)
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.PromptsPath = "prompts.json"
	valid.ModelDir = "models/janus"
	assert.NoError(t, valid.Validate())

	c := valid
	c.PromptsPath = ""
	assert.ErrorContains(t, c.Validate(), "prompts path")

	c = valid
	c.ModelDir = ""
	assert.ErrorContains(t, c.Validate(), "model dir")

	c = valid
	c.OutputDir = ""
	assert.ErrorContains(t, c.Validate(), "output dir")

	c = valid
	c.Target = ""
	assert.ErrorContains(t, c.Validate(), "target category")
	c.SkipEval = true
	assert.NoError(t, c.Validate())

	c = valid
	c.Sampling.ParallelSize = 4
	assert.ErrorContains(t, c.Validate(), "sampling params")
}
