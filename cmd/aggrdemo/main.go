// Copyright 2024 aggrcore authors
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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mima-hlavacek/aggrcore/pkg/config"
)

func init() {
	cobra.OnInitialize(func() {})
	initRunCmd()
	initBenchCmd()
}

var info = "aggrdemo"
var RootCmd = &cobra.Command{
	Use:          "aggrdemo",
	Short:        info,
	Long:         info + ": drive the aggregation core with generated input, for manual inspection",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use aggrdemo --help or -h")
	},
}

var (
	flagConfigPath string
	flagRows       int
	flagGroups     int
	flagThreads    int
	flagLogPath    string
)

func addCommonFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagConfigPath, "config", "", "path to a policy config file (toml/yaml/json)")
	c.Flags().IntVar(&flagRows, "rows", 100000, "number of synthetic input rows")
	c.Flags().IntVar(&flagGroups, "groups", 1000, "number of distinct groups among the synthetic rows")
	c.Flags().IntVar(&flagThreads, "threads", 4, "sink worker thread count")
	c.Flags().StringVar(&flagLogPath, "log", "", "log file path (rotated via lumberjack); empty logs to stderr")
}

var runInfo = "run a single grouped SUM/COUNT aggregation over synthetic data"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfigPath)
		if err != nil {
			return err
		}
		return runDemo(cfg, flagRows, flagGroups, flagThreads, flagLogPath)
	},
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	addCommonFlags(runCmd)
}

var benchInfo = "run the aggregation repeatedly and report timing"
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: benchInfo,
	Long:  benchInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfigPath)
		if err != nil {
			return err
		}
		return benchDemo(cfg, flagRows, flagGroups, flagThreads, flagLogPath, flagIterations)
	},
}

var flagIterations int

func initBenchCmd() {
	RootCmd.AddCommand(benchCmd)
	addCommonFlags(benchCmd)
	benchCmd.Flags().IntVar(&flagIterations, "iterations", 5, "number of repeated runs")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
