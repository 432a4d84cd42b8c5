package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"XSlicer/core/pipeline"
	"XSlicer/server"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <url>",
	Short: "下载并分析一首歌曲，结果写入缓存",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		app, err := server.NewApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.PipelineTimeout)
		defer cancel()

		res, err := app.Orchestrator.Process(ctx, args[0], func(ev pipeline.Event) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Stage, ev.ID)
		})
		app.Orchestrator.Wait()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
