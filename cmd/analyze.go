package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"XSlicer/core/audio"
	"XSlicer/core/rhythm"

	"github.com/spf13/cobra"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <audio-file>",
	Short: "对本地音频文件做节奏分析",
	Long:  `解码本地音频文件并输出速度、节拍和起音时间，不会写入歌曲缓存。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		analyzer := rhythm.NewAnalyzer(audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath))
		result, err := analyzer.Analyze(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Println(rhythm.Summary(result))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "输出完整的 JSON 分析结果")
}
