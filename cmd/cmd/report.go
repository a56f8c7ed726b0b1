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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plinth-ai/genscore"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compute the classification rate from existing results",
	Long: `Read classification_results.csv from the image directory and print the
fraction of rows whose top-1 category matches the target. The classifier is
not re-run; use this to recompute the rate after a finished batch.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("folder", "generated_samples", "image directory holding the results file")
	reportCmd.Flags().String("target", "church", "category counted in the rate")
	mustBindPFlag("report_folder", reportCmd.Flags().Lookup("folder"))
	mustBindPFlag("report_target", reportCmd.Flags().Lookup("target"))
}

func runReport(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	folder := viper.GetString("report_folder")
	target := viper.GetString("report_target")

	rate, err := genscore.RateFromResults(logger, folder, target)
	if err != nil {
		return err
	}
	fmt.Printf("%s rate: %s (%d/%d)\n", target, rate, rate.Matched, rate.Total)
	return nil
}
