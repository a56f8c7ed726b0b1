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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <repo-id> [repo-id...]",
	Short: "Download model(s) from the HuggingFace hub",
	Long: `Download the exported graphs, tokenizer, and configs of one or more
model repositories from the HuggingFace hub into the models directory.

Only the files the generation path reads are fetched: ONNX graphs,
tokenizer.json, and the *_config.json files.

Examples:
  # Pull a model
  genscore pull deepseek-ai/Janus-Pro-1B

  # Pull to a custom directory
  genscore pull --models-dir /opt/models deepseek-ai/Janus-Pro-1B

  # Pull a gated model
  genscore pull --hf-token $HF_TOKEN some-org/private-model`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)

	pullCmd.Flags().String("hf-token", "",
		"HuggingFace API token for gated models (or use HF_TOKEN env var)")
}

func runPull(cmd *cobra.Command, args []string) error {
	hfToken, _ := cmd.Flags().GetString("hf-token")
	if hfToken == "" {
		hfToken = os.Getenv("HF_TOKEN")
	}

	for _, repoID := range args {
		fmt.Printf("\n=== Pulling %s ===\n", repoID)
		if err := pullRepo(repoID, hfToken); err != nil {
			return fmt.Errorf("failed to pull %s: %w", repoID, err)
		}
	}
	return nil
}

func pullRepo(repoID, token string) error {
	repo := hub.New(repoID)
	if token != "" {
		repo = repo.WithAuth(token)
	}

	var toDownload []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
		if wantModelFile(fileName) {
			toDownload = append(toDownload, fileName)
		}
	}
	if len(toDownload) == 0 {
		return fmt.Errorf("no model files found in %s", repoID)
	}

	modelDir := filepath.Join(modelsDir, filepath.FromSlash(repoID))
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	for _, fileName := range toDownload {
		localPath, err := repo.DownloadFile(fileName)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", fileName, err)
		}

		// Flatten path (e.g., "onnx/model.onnx" -> "model.onnx")
		destPath := filepath.Join(modelDir, filepath.Base(fileName))
		fmt.Printf("  %s\n", filepath.Base(fileName))
		if err := copyFile(localPath, destPath); err != nil {
			return fmt.Errorf("copying %s: %w", fileName, err)
		}
	}

	fmt.Printf("Pulled %s into %s\n", repoID, modelDir)
	return nil
}

// wantModelFile selects the files the generation path reads.
func wantModelFile(name string) bool {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, ".onnx"), strings.HasSuffix(base, ".onnx_data"):
		return true
	case base == "tokenizer.json", base == "tokenizer_config.json":
		return true
	case base == "config.json", base == "processor_config.json", base == "special_tokens_map.json":
		return true
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
