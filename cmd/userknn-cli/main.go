// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gorse-io/userknn/base/log"
	"github.com/gorse-io/userknn/cmd/version"
	"github.com/gorse-io/userknn/config"
	"github.com/gorse-io/userknn/dataset"
	"github.com/gorse-io/userknn/logics"
	"github.com/gorse-io/userknn/server"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cliCommand = &cobra.Command{
	Use:   "userknn-cli",
	Short: "CLI for userknn recommender.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Check the version of userknn",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

var predictCommand = &cobra.Command{
	Use:   "predict",
	Short: "Recommend items for users.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		conf := loadConfig(cmd)
		interactions, err := server.LoadInteractions(ctx, conf.Database)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.Error(err))
		}
		model := loadModel(ctx, cmd, conf, interactions)
		users, _ := cmd.Flags().GetInt64Slice("users")
		n, _ := cmd.Flags().GetInt("n")

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("User", "Items")
		for _, userId := range users {
			items, err := model.Recommend(userId, n)
			if err != nil {
				log.Logger().Fatal("failed to recommend", zap.Int64("user_id", userId), zap.Error(err))
			}
			if err = table.Append(fmt.Sprint(userId), strings.Join(lo.Map(items, func(itemId int64, _ int) string {
				return fmt.Sprint(itemId)
			}), ",")); err != nil {
				log.Logger().Fatal("failed to append row", zap.Error(err))
			}
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a model on the latest interactions.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		conf := loadConfig(cmd)
		interactions, err := server.LoadInteractions(ctx, conf.Database)
		if err != nil {
			log.Logger().Fatal("failed to load interactions", zap.Error(err))
		}
		testRatio, _ := cmd.Flags().GetFloat64("test-ratio")
		n, _ := cmd.Flags().GetInt("n")
		train, test := logics.Split(interactions, testRatio)
		log.Logger().Info("split interactions",
			zap.Int("n_train", len(train)),
			zap.Int("n_test", len(test)))
		model := loadModel(ctx, cmd, conf, train)

		numUsers := len(lo.Uniq(lo.Map(test, func(i dataset.Interaction, _ int) int64 {
			return i.UserId
		})))
		bar := progressbar.Default(int64(numUsers), "evaluating")
		score, err := logics.Evaluate(ctx, model, test, n, conf.Recommend.Neighbor.NumJobs, func() {
			_ = bar.Add(1)
		})
		if err != nil {
			log.Logger().Fatal("failed to evaluate", zap.Error(err))
		}
		_ = bar.Finish()

		modelName, _ := cmd.Flags().GetString("model")
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Model", "Users",
			fmt.Sprintf("Precision@%d", n),
			fmt.Sprintf("Recall@%d", n),
			fmt.Sprintf("NDCG@%d", n),
			fmt.Sprintf("HR@%d", n))
		if err = table.Append(modelName, fmt.Sprint(score.NumUsers),
			fmt.Sprintf("%.4f", score.Precision),
			fmt.Sprintf("%.4f", score.Recall),
			fmt.Sprintf("%.4f", score.NDCG),
			fmt.Sprintf("%.4f", score.HR)); err != nil {
			log.Logger().Fatal("failed to append row", zap.Error(err))
		}
		if err = table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	},
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	if cmd.Flags().Changed("csv") {
		conf.Database.CSVPath, _ = cmd.Flags().GetString("csv")
		conf.Database.DataStore = ""
	}
	return conf
}

func loadModel(ctx context.Context, cmd *cobra.Command, conf *config.Config, interactions []dataset.Interaction) logics.Recommender {
	modelName, _ := cmd.Flags().GetString("model")
	modelConfig, ok := lo.Find(conf.Recommend.Models, func(m config.ModelConfig) bool {
		return m.Name == modelName
	})
	if !ok {
		log.Logger().Fatal("failed to find model", zap.Error(errors.NotFoundf("model %s", modelName)))
	}
	conf.Recommend.Models = []config.ModelConfig{modelConfig}
	models, err := logics.NewModels(ctx, conf.Recommend, interactions)
	if err != nil {
		log.Logger().Fatal("failed to create model", zap.Error(err))
	}
	model, _ := models.Get(modelName)
	return model
}

func init() {
	log.AddFlags(cliCommand.PersistentFlags())
	cliCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	cliCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	cliCommand.PersistentFlags().String("csv", "", "load interactions from a csv file instead of the data store")
	cliCommand.PersistentFlags().StringP("model", "m", config.ModelUserKNN, "name of the model")
	cliCommand.PersistentFlags().IntP("n", "n", 10, "number of recommended items")

	predictCommand.Flags().Int64Slice("users", nil, "users to recommend for")
	evaluateCommand.Flags().Float64("test-ratio", 0.2, "ratio of the latest interactions held out for test")

	cliCommand.AddCommand(versionCommand, predictCommand, evaluateCommand)
}

func main() {
	if err := cliCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
