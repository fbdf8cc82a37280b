package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run face detection over the photo library",
	Long: `Scan photos for faces using the detection model server. By default
only photos that have never been scanned are processed; use --all to
rescan everything. Ctrl-C cancels between photos.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().Int("limit", 0, "Maximum number of photos to scan (0 = no limit)")
	detectCmd.Flags().Bool("all", false, "Rescan photos that already have faces")
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if added, err := a.syncLibrary(ctx); err != nil {
		return err
	} else if added > 0 {
		fmt.Printf("Library sync: %d photos registered\n", added)
	}

	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")

	var photoIDs []string
	if all {
		photoIDs, err = a.store.ListPhotoIDs(ctx)
	} else {
		photoIDs, err = a.store.ListUnscannedPhotoIDs(ctx)
	}
	if err != nil {
		return err
	}
	if limit > 0 && len(photoIDs) > limit {
		photoIDs = photoIDs[:limit]
	}
	if len(photoIDs) == 0 {
		fmt.Println("Nothing to scan")
		return nil
	}

	fmt.Printf("Scanning %d photos\n\n", len(photoIDs))
	bar := progressbar.NewOptions(len(photoIDs),
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result, err := a.detector.DetectBatch(ctx, photoIDs, func(processed, total int) {
		_ = bar.Set(processed)
	})
	if result != nil {
		job := result.Job
		fmt.Printf("\n\nScan %s: %d photos processed, %d faces found, %d failures\n",
			job.Status, job.Processed, result.FacesFound, job.FailedCount)
		if job.FailedCount > 0 {
			printJobErrors(ctx, a, job.ID)
		}
	}
	return err
}

func printJobErrors(ctx context.Context, a *app, jobID string) {
	jobErrors, err := a.store.ListJobErrors(ctx, jobID)
	if err != nil {
		fmt.Printf("could not load error details: %v\n", err)
		return
	}
	for _, e := range jobErrors {
		fmt.Printf("  - %s\n", e.Message)
	}
}
