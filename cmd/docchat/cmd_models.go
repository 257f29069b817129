package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/app"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsUploadCmd, modelsDownloadCmd)

	modelsUploadCmd.Flags().StringArray("meta", nil, "metadata as key=value (repeatable)")
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Upload or download model files",
}

var modelsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("meta")
		meta := make(map[string]string, len(pairs))
		for _, p := range pairs {
			k, v, ok := strings.Cut(p, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --meta %q: want key=value", p)
			}
			meta[k] = v
		}

		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		token, err := a.Session.Token()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open model: %w", err)
		}
		defer f.Close()

		ctx, cancel := signalContext()
		defer cancel()
		resp, err := a.Client.UploadModel(ctx, token, filepath.Base(args[0]), f, meta)
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("upload model: %s", resp.Error)
		}
		fmt.Fprintf(os.Stdout, "Uploaded. CID: %s\n", resp.IPFSHash)
		return nil
	},
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download <cid>",
	Short: "Ask the backend to fetch a model by CID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(loadConfig(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		token, err := a.Session.Token()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		resp, err := a.Client.DownloadModel(ctx, token, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, resp.Message)
		if resp.FilePath != "" {
			fmt.Fprintf(os.Stdout, "Saved to %s\n", resp.FilePath)
		}
		return nil
	},
}
