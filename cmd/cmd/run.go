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
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/plinth-ai/genscore"
	"github.com/plinth-ai/genscore/lib/eval"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate images for a prompt list and score them",
	Long: `Generate one image per prompt from a JSON prompt file, then run the
external classifier over the output directory and report the classification
rate for the target category.

Existing output files are skipped, so an interrupted run can be resumed by
running the same command again.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("prompts", "", "JSON file with the ordered prompt list (required)")
	runCmd.Flags().String("model-dir", "", "model directory (required)")
	runCmd.Flags().String("output-dir", "generated_samples", "directory receiving <index>.png files")
	runCmd.Flags().String("finetune", "", "safetensors checkpoint of fine-tune deltas (optional)")
	runCmd.Flags().Int("patch-layers", 0, "trailing backbone layers the checkpoint targets (0 = default)")
	runCmd.Flags().Int64("seed", 42, "random seed for sampling")
	runCmd.Flags().Float32("cfg-weight", 5, "classifier-free guidance weight")
	runCmd.Flags().Float32("temperature", 1, "sampling temperature")
	runCmd.Flags().String("target", "church", "category counted in the rate")
	runCmd.Flags().String("eval-command", "python eval_object.py --topk 10 --batch_size 250",
		"classifier invocation; --folder_path <output-dir> is appended")
	runCmd.Flags().Bool("skip-eval", false, "generate images without running the classifier")
	runCmd.Flags().Int("metrics-port", 0, "Prometheus metrics port (0 = disabled)")

	mustBindPFlag("prompts", runCmd.Flags().Lookup("prompts"))
	mustBindPFlag("model_dir", runCmd.Flags().Lookup("model-dir"))
	mustBindPFlag("output_dir", runCmd.Flags().Lookup("output-dir"))
	mustBindPFlag("finetune", runCmd.Flags().Lookup("finetune"))
	mustBindPFlag("patch_layers", runCmd.Flags().Lookup("patch-layers"))
	mustBindPFlag("seed", runCmd.Flags().Lookup("seed"))
	mustBindPFlag("cfg_weight", runCmd.Flags().Lookup("cfg-weight"))
	mustBindPFlag("temperature", runCmd.Flags().Lookup("temperature"))
	mustBindPFlag("target", runCmd.Flags().Lookup("target"))
	mustBindPFlag("eval_command", runCmd.Flags().Lookup("eval-command"))
	mustBindPFlag("skip_eval", runCmd.Flags().Lookup("skip-eval"))
	mustBindPFlag("metrics_port", runCmd.Flags().Lookup("metrics-port"))
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	config := genscore.DefaultConfig()
	config.PromptsPath = viper.GetString("prompts")
	config.ModelDir = viper.GetString("model_dir")
	config.OutputDir = viper.GetString("output_dir")
	config.FinetunePath = viper.GetString("finetune")
	config.PatchLayers = viper.GetInt("patch_layers")
	config.Seed = viper.GetInt64("seed")
	config.Sampling.CFGWeight = float32(viper.GetFloat64("cfg_weight"))
	config.Sampling.Temperature = float32(viper.GetFloat64("temperature"))
	config.Target = viper.GetString("target")
	config.SkipEval = viper.GetBool("skip_eval")
	config.MetricsPort = viper.GetInt("metrics_port")
	if cmdline := strings.Fields(viper.GetString("eval_command")); len(cmdline) > 0 {
		config.Eval = eval.Command{Name: cmdline[0], Args: cmdline[1:]}
	}

	report, err := genscore.RunBatch(ctx, logger, config)
	if err != nil {
		logger.Error("Batch run failed", zap.Error(err))
		return err
	}

	if !config.SkipEval && report.EvalErr == nil {
		fmt.Printf("%s rate: %.2f%%\n", config.Target, report.RatePercent)
	}
	if report.EvalErr != nil {
		return fmt.Errorf("reporting stage: %w", report.EvalErr)
	}
	if failed := report.Count(genscore.StatusFailed); failed > 0 {
		return fmt.Errorf("%d of %d generations failed", failed, len(report.Outcomes))
	}
	return nil
}
