package cmd

import (
	"fmt"

	"XSlicer/core/rhythm"
	"XSlicer/storage"

	"github.com/spf13/cobra"
)

var songsCmd = &cobra.Command{
	Use:   "songs",
	Short: "本地歌曲缓存管理",
}

var songsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出已缓存的歌曲",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewSongStore(cfg.SongsDir)
		if err != nil {
			return err
		}
		ids, err := store.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := store.Lookup(id)
			if err != nil {
				fmt.Printf("%s\t(不完整: %v)\n", id, err)
				continue
			}
			title := ""
			if rec.Title != nil {
				title = *rec.Title
			}
			fmt.Printf("%s\t%s\t%s\n", id, title, rhythm.Summary(rec.Rhythm))
		}
		fmt.Printf("\n共 %d 首歌曲\n", len(ids))
		return nil
	},
}

var songsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "清理中断写入留下的临时目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewSongStore(cfg.SongsDir)
		if err != nil {
			return err
		}
		n, err := store.Sweep()
		if err != nil {
			return err
		}
		fmt.Printf("已清理 %d 个临时目录\n", n)
		return nil
	},
}

var songsRestoreCmd = &cobra.Command{
	Use:   "restore <id>...",
	Short: "从 MinIO 镜像恢复歌曲到本地缓存",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewSongStore(cfg.SongsDir)
		if err != nil {
			return err
		}
		mirror, err := storage.NewMirror(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		for _, id := range args {
			rec, err := mirror.Restore(cmd.Context(), store, id)
			if err != nil {
				return fmt.Errorf("恢复 %s 失败: %w", id, err)
			}
			fmt.Printf("已恢复 %s -> %s\n", rec.ID, rec.AudioPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(songsCmd)
	songsCmd.AddCommand(songsListCmd, songsSweepCmd, songsRestoreCmd)
}
