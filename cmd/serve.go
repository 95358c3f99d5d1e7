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
	"github.com/spf13/cobra"

	"github.com/valpere/batchtran/internal/bridge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the translation engine over HTTP",
	Long: `Serve the translation engine over HTTP.

  POST   /api/v1/batch-translate   submit a batch job
  POST   /api/v1/translate         submit a keyed job
  GET    /api/v1/jobs/:id?since=n  progress and replies from index n
  DELETE /api/v1/jobs/:id          cancel a job
  GET    /api/v1/jobs              job history
  GET    /api/v1/health            health check

Submissions accept JSON, or YAML with a yaml Content-Type. Pass task_id as a
query parameter to tag a job with the caller's task ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		var history bridge.History
		if rt.db != nil {
			history = rt.db
		}

		server := bridge.NewServer(rt.engine, history, rt.logger, bridge.Options{
			Host: rt.cfg.Serve.Host,
			Port: rt.cfg.Serve.Port,
		})

		ctx, stop := signalContext()
		defer stop()
		return server.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Listen host")
	serveCmd.Flags().Int("port", 8080, "Listen port")
	_ = v.BindPFlag("serve.host", serveCmd.Flags().Lookup("host"))
	_ = v.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}
