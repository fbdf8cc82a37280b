package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Adioame/PhotoMind-sub002/internal/events"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Recompute face embeddings",
	Long: `Run the embedding regeneration job over faces that lack an embedding
vector. With --force every face is recomputed. The job checkpoints after
each face, so an interrupted run resumes where it left off. Ctrl-C
pauses between faces.`,
	RunE: runRegenerate,
}

var regenerateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the regeneration queue",
	RunE:  runRegenerateStatus,
}

var regenerateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the active regeneration job to idle",
	Long: `Clear the active job's counters and error list and return it to idle.
Already-computed embeddings are kept. Use this after diagnosing a failed
or stalled run; a stalled job can also be freed with 'queue reset' via
the API, which keeps its counters.`,
	RunE: runRegenerateReset,
}

func init() {
	rootCmd.AddCommand(regenerateCmd)
	regenerateCmd.AddCommand(regenerateStatusCmd)
	regenerateCmd.AddCommand(regenerateResetCmd)

	regenerateCmd.Flags().Bool("force", false, "Recompute embeddings for every face, not only missing ones")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	force, _ := cmd.Flags().GetBool("force")

	progressCh := a.bus.AddListener()
	defer a.bus.RemoveListener(progressCh)

	job, err := a.manager.Start(ctx, force)
	if err != nil {
		return err
	}
	if job.Total == 0 {
		a.manager.Wait()
		fmt.Println("No faces need embeddings")
		return nil
	}

	fmt.Printf("Regenerating %d embeddings\n\n", job.Total)
	bar := progressbar.NewOptions(job.Total,
		progressbar.OptionSetDescription("Embedding faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	done := make(chan struct{})
	go func() {
		a.manager.Wait()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			// Pause rather than abandon: the job stays resumable.
			if err := a.manager.Pause(); err == nil {
				a.manager.Wait()
			}
			fmt.Println("\n\nPaused; run 'regenerate' again to resume")
			return nil
		case ev := <-progressCh:
			if p, ok := ev.Data.(events.Progress); ok && p.JobID == job.ID {
				_ = bar.Set(p.Processed)
			}
		case <-done:
			return printRegenerateSummary(cmd, a, job.ID)
		}
	}
}

func printRegenerateSummary(cmd *cobra.Command, a *app, jobID string) error {
	ctx := cmd.Context()
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("\n\nRegeneration %s: %d/%d processed, %d ok, %d failed\n",
		job.Status, job.Processed, job.Total, job.SuccessCount, job.FailedCount)
	if job.FailedCount > 0 {
		printJobErrors(ctx, a, jobID)
	}
	return nil
}

func runRegenerateStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.manager.GetQueueStatus(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Status:    %s\n", status.Status)
	if status.JobID != "" {
		fmt.Printf("Job:       %s\n", status.JobID)
		fmt.Printf("Progress:  %d/%d (%d ok, %d failed)\n",
			status.Processed, status.Total, status.SuccessCount, status.FailedCount)
	}
	fmt.Printf("Pending:   %d faces without embeddings\n", status.Pending)
	if status.Stalled {
		fmt.Println("Stalled:   yes — no heartbeat within the stall timeout; run 'regenerate reset'")
	}
	return nil
}

func runRegenerateReset(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Regeneration job reset to idle")
	return nil
}
