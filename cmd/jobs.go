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
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal/store"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect job history",
	Long:  `List recorded jobs and show the item outcomes of one job.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := configuredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs(context.Background(), jobsLimit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTASK\tKIND\tSTATUS\tTOTAL\tTRANSLATED\tFAILED\tDROPPED\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				j.ID, j.TaskID, j.Kind, j.Status, j.Total,
				j.Translated, j.Failed, j.Dropped,
				j.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and its item outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := configuredStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		job, err := db.GetJob(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		items, err := db.ListItems(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to load items: %w", err)
		}

		fmt.Printf("Job:      %s (task %s)\n", job.ID, job.TaskID)
		fmt.Printf("Kind:     %s, mode %s\n", job.Kind, job.Mode)
		fmt.Printf("Sources:  %v\n", job.Sources)
		fmt.Printf("Targets:  %v\n", job.Targets)
		fmt.Printf("Status:   %s, %d/%d dealt, %d dropped\n", job.Status, job.Deal, job.Total, job.Dropped)
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKEY\tFROM\tTO\tSTATUS\tATTEMPTS\tLATENCY\tRESULT")
		for _, it := range items {
			result := it.Result
			if it.Error != "" {
				result = it.Error
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				it.Seq, it.Key, it.SourceLang, it.TargetLang, it.Status,
				it.Attempts, it.Latency, snippet(result, 60))
		}
		return w.Flush()
	},
}

// configuredStore opens the configured database, which must be set.
func configuredStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.DB == "" {
		return nil, fmt.Errorf("no database configured")
	}
	return openStore(cfg.DB)
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of jobs to list")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}
