package cmd

import (
	"context"
	"encoding/json"
	"os"

	"XSlicer/core/media"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "解析链接的元数据，不下载",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProbeTimeout)
		defer cancel()

		rec, err := media.NewYtDlpResolver(cfg.YtDlpPath).Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
