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
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal"
	"github.com/valpere/batchtran/internal/payload"
)

var (
	batchInput  string
	batchOutput string
	batchTaskID string
	batchFormat string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Translate a batch of localization entries",
	Long: `Translate a batch submission read from a JSON or YAML file ("-" for stdin).

The submission names the operate mode ("all" or "fix"), the source languages
in order of preference, the target languages and the entries:

  {
    "operate": "fix",
    "sources": ["en"],
    "targets": ["de", "fr"],
    "strings": [{"key": "hello", "strings": {"en": "Hello", "de": null}}]
  }

Every reply is written as one JSON line. The last line has "done": true.
Interrupting the command drops the items not yet started.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(batchInput)
		if err != nil {
			return err
		}
		params, err := payload.DecodeBatch(raw, inputFormat(batchInput, batchFormat))
		if err != nil {
			return fmt.Errorf("invalid batch submission: %w", err)
		}

		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		out, closeOut, err := openOutput(batchOutput)
		if err != nil {
			return err
		}
		defer closeOut()

		ctx, stop := signalContext()
		defer stop()

		taskID := batchTaskID
		if taskID == "" {
			taskID = uuid.NewString()
		}

		run, err := rt.engine.BatchTranslate(ctx, taskID, params, newLineReplier(out))
		if err != nil {
			return err
		}

		summary, err := run.Wait(context.Background())
		if err != nil {
			return err
		}
		printSummary(summary)
		if summary.Canceled {
			return fmt.Errorf("job %s canceled", summary.JobID)
		}
		return nil
	},
}

// lineReplier writes each reply as a JSON line.
type lineReplier struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineReplier(w io.Writer) *lineReplier {
	return &lineReplier{enc: json.NewEncoder(w)}
}

func (r *lineReplier) Reply(_ string, reply internal.Reply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(reply); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write reply: %v\n", err)
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return raw, nil
}

func inputFormat(path, explicit string) payload.Format {
	switch explicit {
	case "json":
		return payload.FormatJSON
	case "yaml", "yml":
		return payload.FormatYAML
	}
	return payload.FormatFromPath(path)
}

// openOutput returns stdout for "" or "-", otherwise the created file.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printSummary(s internal.Summary) {
	fmt.Fprintf(os.Stderr, "Job %s: %d/%d dealt, %d translated, %d failed, %d dropped in %s\n",
		s.JobID, s.Deal, s.Total, s.Translated, s.Failed, s.Dropped, s.Duration.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "Batch submission file, or - for stdin (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Reply output file (default stdout)")
	batchCmd.Flags().StringVar(&batchTaskID, "task-id", "", "Task ID echoed in job history (default generated)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "", "Input format: json or yaml (default from extension)")

	batchCmd.MarkFlagRequired("input")
}
