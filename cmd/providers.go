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
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal/translator"
)

var providersCheck bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List translation providers and their language code mappings",
	Long: `List the supported translation providers with the language codes each
one remaps (built-in map plus lang_map overrides from configuration).

With --check, each provider is asked whether it is reachable with the
configured credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := "PROVIDER\tACTIVE\tMAPPINGS"
		if providersCheck {
			header += "\tSTATUS"
		}
		fmt.Fprintln(w, header)

		for _, name := range translator.Names() {
			sc, err := cfg.Service(name)
			if err != nil {
				return err
			}
			svc, err := translator.Build(name, sc)
			if err != nil {
				return err
			}

			langs := svc.Languages().Merge(cfg.LangMap[name])
			mappings := make([]string, 0, len(langs))
			for _, code := range langs.Codes() {
				mappings = append(mappings, code+"="+langs.Resolve(code))
			}
			active := ""
			if name == cfg.Provider {
				active = "*"
			}

			line := fmt.Sprintf("%s\t%s\t%s", name, active, strings.Join(mappings, ","))
			if providersCheck {
				line += "\t" + availability(svc, sc.Timeout)
			}
			fmt.Fprintln(w, line)
		}
		return w.Flush()
	},
}

func availability(svc translator.TranslationService, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.IsAvailable(ctx); err != nil {
		return "unavailable: " + err.Error()
	}
	return "ok"
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().BoolVar(&providersCheck, "check", false, "Check that each provider is reachable")
}
