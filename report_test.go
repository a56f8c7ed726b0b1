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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plinth-ai/genscore/lib/eval"
)

func TestRateFromResults(t *testing.T) {
	dir := t.TempDir()
	csvData := "image,category_top1\n0.png,church\n1.png,church\n2.png,church\n3.png,barn\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, eval.ResultsFilename), []byte(csvData), 0o644))

	rate, err := RateFromResults(zap.NewNop(), dir, "church")
	require.NoError(t, err)
	assert.Equal(t, 4, rate.Total)
	assert.Equal(t, 3, rate.Matched)
	assert.Equal(t, "75.00%", rate.String())
}

func TestRateFromResultsMissingFile(t *testing.T) {
	_, err := RateFromResults(zap.NewNop(), t.TempDir(), "church")
	assert.ErrorIs(t, err, eval.ErrNoResults)
}

func TestRateFromResultsEmptyTable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, eval.ResultsFilename), []byte("image,category_top1\n"), 0o644))

	rate, err := RateFromResults(zap.NewNop(), dir, "church")
	require.NoError(t, err)
	assert.Equal(t, 0, rate.Total)
	assert.Equal(t, "0.00%", rate.String())
}
