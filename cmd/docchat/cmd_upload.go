package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/docchat/internal/app"
	"github.com/user/docchat/internal/render"
	"github.com/user/docchat/internal/types"
	"github.com/user/docchat/internal/upload"
)

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().Bool("watch", false, "follow processing until every document is done")
	uploadCmd.Flags().Duration("timeout", 10*time.Minute, "how long --watch waits")
}

var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Upload documents for processing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		var files []types.File
		for _, path := range args {
			f, err := upload.LocalFile(path)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		files, skipped := upload.Filter(files)
		if skipped != nil {
			fmt.Fprintf(os.Stderr, "Skipping:\n%v\n", skipped)
		}
		if len(files) == 0 {
			return errors.New("nothing to upload")
		}

		opts := app.Options{}
		if watch {
			opts.Out = os.Stdout
		}
		a, err := newApp(loadConfig(), opts)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if watch {
			if err := a.Start(ctx); err != nil {
				return err
			}
		}

		batch, err := a.Submitter.Submit(ctx, files)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		if err := batch.Wait(ctx); err != nil {
			render.Documents(os.Stdout, a.Submitter.Records())
			return fmt.Errorf("upload: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Submitted %d file(s).\n", len(batch.IDs))

		if !watch {
			return render.Documents(os.Stdout, a.Submitter.Records())
		}

		waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
		defer waitCancel()
		err = a.WaitSettled(waitCtx)
		render.Documents(os.Stdout, a.Reconciler.View())
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("documents still processing after %s", timeout)
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}
