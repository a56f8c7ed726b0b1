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

package eval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	csvData := `image,category_top1,score
0.png,church,0.91
1.png,barn,0.55
2.png,church,0.87
3.png,castle,0.43
`
	rate, err := parseRate(strings.NewReader(csvData), "church")
	require.NoError(t, err)
	assert.Equal(t, 4, rate.Total)
	assert.Equal(t, 2, rate.Matched)
	assert.InDelta(t, 50.0, rate.Percent(), 1e-9)
	assert.Equal(t, "50.00%", rate.String())
}

func TestParseRateNoMatches(t *testing.T) {
	csvData := "image,category_top1\n0.png,barn\n"
	rate, err := parseRate(strings.NewReader(csvData), "church")
	require.NoError(t, err)
	assert.Equal(t, 1, rate.Total)
	assert.Equal(t, 0, rate.Matched)
	assert.Equal(t, "0.00%", rate.String())
}

func TestParseRateEmptyTable(t *testing.T) {
	rate, err := parseRate(strings.NewReader("image,category_top1\n"), "church")
	require.NoError(t, err)
	assert.Equal(t, 0, rate.Total)
	assert.Equal(t, 0.0, rate.Percent())
}

func TestParseRateEmptyFile(t *testing.T) {
	rate, err := parseRate(strings.NewReader(""), "church")
	require.NoError(t, err)
	assert.Equal(t, 0, rate.Total)
}

func TestParseRateMissingColumn(t *testing.T) {
	_, err := parseRate(strings.NewReader("image,score\n0.png,0.9\n"), "church")
	assert.ErrorContains(t, err, "category_top1")
}

func TestClassificationRateMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := ClassificationRate(dir, "church")
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestClassificationRateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ResultsFilename)
	require.NoError(t, os.WriteFile(path, []byte("image,category_top1\n0.png,church\n1.png,church\n2.png,tower\n"), 0o644))

	rate, err := ClassificationRate(dir, "church")
	require.NoError(t, err)
	assert.Equal(t, 3, rate.Total)
	assert.Equal(t, 2, rate.Matched)
}
