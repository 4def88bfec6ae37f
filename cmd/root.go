// Copyright © 2018 NAME HERE <EMAIL ADDRESS>
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

package cmd

import (
	"fmt"
	"os"
	"strings"

	logging "github.com/ipfs/go-log"
	"github.com/shibukawa/configdir"
	"github.com/spf13/cobra"
)

var (
	logLvlName string
	cfgFile    string
)

var logLevels = []string{"critical", "error", "warning", "notice", "info", "debug"}

func checkLogLevel(lvlName string) error {
	for _, l := range logLevels {
		if l == lvlName {
			return nil
		}
	}
	return fmt.Errorf("invalid log level %v, must be one of %s", lvlName, strings.Join(logLevels, ", "))
}

func configDir(namespace string) string {
	conf := configdir.New("bnonet", namespace)
	folders := conf.QueryFolders(configdir.Global)
	if err := os.MkdirAll(folders[0].Path, 0700); err != nil {
		panic(err)
	}
	return folders[0].Path
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bnonet",
	Short: "Membership-gated asset network",
	Long:  `bnonet runs a network of parties that only trade with members of a trusted business network operator`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := checkLogLevel(logLvlName); err != nil {
			return err
		}
		return logging.SetLogLevel("*", strings.ToUpper(logLvlName))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLvlName, "log-level", "L", "error", "Log level")
}
