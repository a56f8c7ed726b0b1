// Copyright 2026 Plinth AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List locally installed models",
	Long: `List the models available under the models directory. A directory
counts as a model when it holds a tokenizer.json next to at least one ONNX
graph.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(modelsDir); err != nil {
		fmt.Printf("No models found (%s does not exist)\n", modelsDir)
		return nil
	}

	var found int
	err := filepath.WalkDir(modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if !isModelDir(path) {
			return nil
		}
		rel, rerr := filepath.Rel(modelsDir, path)
		if rerr != nil {
			rel = path
		}
		fmt.Println(rel)
		found++
		return fs.SkipDir
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", modelsDir, err)
	}

	if found == 0 {
		fmt.Printf("No models found in %s\n", modelsDir)
	}
	return nil
}

func isModelDir(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err != nil {
		return false
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
	return err == nil && len(matches) > 0
}
