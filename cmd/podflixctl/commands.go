package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/podflix/internal/config"
	"github.com/suPer8Hu/podflix/internal/db"
	"github.com/suPer8Hu/podflix/internal/logging"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "podflixctl",
		Short:         "Administer a Podflix installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDBCmd(), newTranscriptCmd())
	return root
}

func newDBCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Create or drop the schema of the configured database",
	}

	manager := func() (*db.Manager, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		logging.Configure(cfg.LogLevel, cfg.LogFormat)
		d, err := db.NewFactory().Create(db.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		return db.NewManager(d), nil
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create tables unless they already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.Initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
	dropCmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every Podflix table",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("refusing to drop tables without --force")
			}
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.Drop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema dropped")
			return nil
		},
	}
	dropCmd.Flags().Bool("force", false, "confirm dropping all data")
	dbCmd.AddCommand(initCmd, dropCmd)
	return dbCmd
}

func newTranscriptCmd() *cobra.Command {
	trCmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print transcripts as JSON",
	}

	youtube := &cobra.Command{
		Use:   "youtube <url>",
		Short: "Fetch existing subtitles of a YouTube video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("lang")
			ytdlp, _ := cmd.Flags().GetString("ytdlp")
			yt := transcript.NewYouTube(transcript.YouTubeOptions{
				TimedTextURL: "https://www.youtube.com/api/timedtext",
				YTDLPPath:    ytdlp,
			})
			tr, err := yt.Fetch(cmd.Context(), args[0], lang)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tr)
		},
	}
	youtube.Flags().String("lang", "en", "subtitle language")
	youtube.Flags().String("ytdlp", "yt-dlp", "path to the yt-dlp binary")

	vtt := &cobra.Command{
		Use:   "vtt <file>",
		Short: "Parse a WebVTT file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tr, err := transcript.ParseVTT(string(b))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tr)
		},
	}

	trCmd.AddCommand(youtube, vtt)
	return trCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
