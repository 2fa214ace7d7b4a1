package main

import (
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
)

func triggerCmd() *cobra.Command {
	var (
		pipePath string
		keyword  string
		count    int
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Signal a detection through the pipe",
		Long: `Write one acknowledgment frame ("<keyword>\n") to the detector pipe per
detection, the way the vendor runtime does. A running detector must have
the pipe open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1, got %d", count)
			}
			if pipePath == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				pipePath = cfg.Detector.PipePath
			}
			if pipePath == "" {
				pipePath = kwd.DefaultPipePath
			}

			payload := []byte(strings.Repeat(keyword+"\n", count))
			if err := kwd.Signal(pipePath, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signalled %d detection(s) on %s\n", count, pipePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipePath, "pipe", "", "pipe path (default: detector.pipe_path from config)")
	cmd.Flags().StringVar(&keyword, "keyword", kwd.DefaultKeyword, "keyword written to the pipe")
	cmd.Flags().IntVar(&count, "count", 1, "number of frames to write")

	return cmd
}

func mkfifoCmd() *cobra.Command {
	var (
		pipePath string
		mode     uint32
	)

	cmd := &cobra.Command{
		Use:   "mkfifo",
		Short: "Create the detector pipe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pipePath == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				pipePath = cfg.Detector.PipePath
			}
			if pipePath == "" {
				pipePath = kwd.DefaultPipePath
			}

			if info, err := os.Stat(pipePath); err == nil {
				if info.Mode()&fs.ModeNamedPipe != 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", pipePath)
					return nil
				}
				return fmt.Errorf("%s exists and is not a named pipe", pipePath)
			}

			if err := kwd.MakeFIFO(pipePath, mode); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", pipePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipePath, "pipe", "", "pipe path (default: detector.pipe_path from config)")
	cmd.Flags().Uint32Var(&mode, "mode", 0o660, "permission bits")

	return cmd
}
