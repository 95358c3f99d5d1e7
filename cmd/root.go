/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.3.0"

var (
	cfgFile string
	envFile string

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "batchtran",
	Short: "Rate-limited batch translation dispatcher",
	Long: `batchtran translates localization entries through a single translation
provider while keeping the provider's request rate under a configured
budget (qps requests per interval).

Each submission becomes a job. Every entry/target pair missing a translation
is one work item; items start in submission order, at most qps per interval,
and each outcome is reported as soon as it arrives.

Supported providers: niutrans, google, mymemory, systran

Settings come from flags, BATCHTRAN_* environment variables, a .env file
and an optional config file, in that order of precedence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (yaml, toml or json)")
	pf.StringVar(&envFile, "env", ".env", "Env file loaded before reading configuration")

	pf.String("provider", "niutrans", "Translation provider")
	pf.Int("qps", 5, "Work items started per interval")
	pf.Duration("interval", time.Second, "Rate interval")
	pf.String("limiter", "token", "Rate limiter: token, window or redis (shared between processes)")
	pf.Int("max-attempts", 1, "Attempts per item on transport errors (1 = no retries)")
	pf.String("db", "./data/batchtran.db", "SQLite database for job history and translation memory (empty disables)")
	pf.Bool("no-cache", false, "Disable translation memory")
	pf.String("log-level", "info", "Log level")
	pf.String("log-format", "console", "Log format: console or json")

	for key, flag := range map[string]string{
		"provider":     "provider",
		"qps":          "qps",
		"interval":     "interval",
		"limiter":      "limiter",
		"max_attempts": "max-attempts",
		"db":           "db",
		"no_cache":     "no-cache",
		"log.level":    "log-level",
		"log.format":   "log-format",
	} {
		_ = v.BindPFlag(key, pf.Lookup(flag))
	}
}
