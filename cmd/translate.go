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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/orchestrator"
	"github.com/valpere/batchtran/internal/payload"
)

var (
	translateInput   string
	translateOutput  string
	translateFormat  string
	translateKey     string
	translateFrom    string
	translateText    string
	translateTargets []string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate keyed texts into several languages",
	Long: `Translate keyed texts, each from its own source language into a list of
targets. The submission maps a key to its request:

  {"title": {"from": "en", "text": "Settings", "targets": ["de", "ja"]}}

A single text can be given with --from, --text and --targets instead of a file.

The result is one JSON document mapping each key to its translations by
target language. Failed items are left out and logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := keyedRequests()
		if err != nil {
			return err
		}

		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		out, closeOut, err := openOutput(translateOutput)
		if err != nil {
			return err
		}
		defer closeOut()

		ctx, stop := signalContext()
		defer stop()

		var final internal.Reply
		replier := orchestrator.ReplierFunc(func(_ string, r internal.Reply) { final = r })

		run, err := rt.engine.Translate(ctx, uuid.NewString(), reqs, replier)
		if err != nil {
			return err
		}
		summary, err := run.Wait(context.Background())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final.Results); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}

		printSummary(summary)
		if final.Error != "" {
			return fmt.Errorf("job %s: %s", summary.JobID, final.Error)
		}
		return nil
	},
}

func keyedRequests() (map[string]internal.KeyedRequest, error) {
	if translateInput == "" {
		if translateFrom == "" || translateText == "" || len(translateTargets) == 0 {
			return nil, fmt.Errorf("either --input or --from, --text and --targets are required")
		}
		return map[string]internal.KeyedRequest{
			translateKey: {From: translateFrom, Text: translateText, Targets: translateTargets},
		}, nil
	}

	raw, err := readInput(translateInput)
	if err != nil {
		return nil, err
	}
	reqs, err := payload.DecodeKeyed(raw, inputFormat(translateInput, translateFormat))
	if err != nil {
		return nil, fmt.Errorf("invalid translate submission: %w", err)
	}
	return reqs, nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&translateInput, "input", "i", "", "Keyed submission file, or - for stdin")
	translateCmd.Flags().StringVarP(&translateOutput, "output", "o", "", "Result output file (default stdout)")
	translateCmd.Flags().StringVar(&translateFormat, "format", "", "Input format: json or yaml (default from extension)")
	translateCmd.Flags().StringVar(&translateKey, "key", "text", "Key for a text given on the command line")
	translateCmd.Flags().StringVarP(&translateFrom, "from", "s", "", "Source language of --text")
	translateCmd.Flags().StringVarP(&translateText, "text", "x", "", "Text to translate")
	translateCmd.Flags().StringSliceVarP(&translateTargets, "targets", "t", nil, "Target languages (comma-separated)")
}
