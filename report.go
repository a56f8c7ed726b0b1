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

	"go.uber.org/zap"

	"github.com/plinth-ai/genscore/lib/eval"
)

// Report runs the external classifier over the output directory and
// computes the classification rate for the configured target category.
func Report(ctx context.Context, zl *zap.Logger, config Config) (eval.Rate, error) {
	zl = zl.Named("report")
	evalRuns.Inc()

	if err := eval.Run(ctx, config.Eval, config.OutputDir, zl); err != nil {
		return eval.Rate{}, err
	}
	return RateFromResults(zl, config.OutputDir, config.Target)
}

// RateFromResults computes the classification rate from an existing results
// file without re-running the classifier.
func RateFromResults(zl *zap.Logger, folderPath, target string) (eval.Rate, error) {
	rate, err := eval.ClassificationRate(folderPath, target)
	if err != nil {
		return eval.Rate{}, err
	}

	zl.Info("Classification rate",
		zap.String("target", target),
		zap.Int("matched", rate.Matched),
		zap.Int("total", rate.Total),
		zap.String("rate", rate.String()))
	return rate, nil
}
