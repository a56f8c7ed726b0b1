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

// Package eval shells out to an external image classifier and computes the
// classification rate from the results table it leaves behind.
package eval

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// ResultsFilename is the CSV the classifier writes into the image directory.
const ResultsFilename = "classification_results.csv"

// ErrNoResults indicates the classifier left no results file behind.
var ErrNoResults = errors.New("eval: classification results file not found")

// Command describes the external classifier invocation. The image
// directory is appended as the value of --folder_path.
type Command struct {
	Name string
	Args []string
}

// DefaultCommand returns the stock classifier invocation.
func DefaultCommand() Command {
	return Command{
		Name: "python",
		Args: []string{"eval_object.py", "--topk", "10", "--batch_size", "250"},
	}
}

// Run invokes the classifier over folderPath, streaming its output to the
// parent process. The classifier is expected to write ResultsFilename into
// folderPath.
func Run(ctx context.Context, cmd Command, folderPath string, logger *zap.Logger) error {
	args := append(append([]string{}, cmd.Args...), "--folder_path", folderPath)
	logger.Info("Running classifier", zap.String("command", cmd.Name), zap.Strings("args", args))

	c := exec.CommandContext(ctx, cmd.Name, args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("classifier command: %w", err)
	}
	return nil
}

// Rate is the outcome of a classification-rate computation.
type Rate struct {
	Total   int
	Matched int
}

// Percent returns Matched/Total as a percentage, or 0 for an empty table.
func (r Rate) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Matched) / float64(r.Total) * 100
}

// String formats the rate to two decimals.
func (r Rate) String() string {
	return fmt.Sprintf("%.2f%%", r.Percent())
}

// ClassificationRate reads the results CSV under folderPath and counts the
// rows whose category_top1 column equals target. Returns ErrNoResults when
// the file is missing.
func ClassificationRate(folderPath, target string) (Rate, error) {
	path := filepath.Join(folderPath, ResultsFilename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Rate{}, fmt.Errorf("%w: %s", ErrNoResults, path)
		}
		return Rate{}, fmt.Errorf("opening results file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parseRate(f, target)
}

func parseRate(r io.Reader, target string) (Rate, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err == io.EOF {
		return Rate{}, nil
	}
	if err != nil {
		return Rate{}, fmt.Errorf("reading results header: %w", err)
	}

	col := -1
	for i, name := range header {
		if name == "category_top1" {
			col = i
			break
		}
	}
	if col < 0 {
		return Rate{}, fmt.Errorf("results file has no category_top1 column (columns: %v)", header)
	}

	var rate Rate
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Rate{}, fmt.Errorf("reading results row %s: %w", strconv.Itoa(rate.Total+1), err)
		}
		rate.Total++
		if record[col] == target {
			rate.Matched++
		}
	}
	return rate, nil
}
