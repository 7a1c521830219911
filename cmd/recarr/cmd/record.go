package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/recarr/internal/models"
	"github.com/jmylchreest/recarr/internal/recorder"
)

var (
	videoBitrate int
	audioBitrate int
	textBitrate  int
	imageBitrate int
)

var recordCmd = &cobra.Command{
	Use:   "record <manifest-url>",
	Short: "Record a presentation for offline playback",
	Long: `Record downloads every segment of the presentation at the given manifest
URL into local storage. Track types without an explicit bitrate record at
the highest available quality. Interrupting with Ctrl-C stops the recording
and leaves it resumable.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().IntVar(&videoBitrate, "video-bitrate", 0, "video bandwidth to record (0 = highest)")
	recordCmd.Flags().IntVar(&audioBitrate, "audio-bitrate", 0, "audio bandwidth to record (0 = highest)")
	recordCmd.Flags().IntVar(&textBitrate, "text-bitrate", 0, "subtitle bandwidth to record (0 = highest)")
	recordCmd.Flags().IntVar(&imageBitrate, "image-bitrate", 0, "thumbnail bandwidth to record (0 = highest)")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	selections, err := buildSelections()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan recorder.SessionEvent, 1)
	a.controller.AddListener(func(ev recorder.SessionEvent) {
		if ev.Kind == recorder.EventFinished || ev.Kind == recorder.EventStopped {
			select {
			case done <- ev:
			default:
			}
		}
	})

	id, err := a.controller.Record(ctx, args[0], selections)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recording %d started\n", id)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := a.controller.StopRecord(context.Background()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recording %d stopped at %d%%\n",
				id, a.controller.GetRecordProgression())
			return nil
		case ev := <-done:
			switch ev.Kind {
			case recorder.EventFinished:
				fmt.Fprintf(cmd.OutOrStdout(), "recording %d finished\n", id)
				return nil
			case recorder.EventStopped:
				if ev.Err != nil {
					return fmt.Errorf("recording %d stopped: %w", id, ev.Err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recording %d stopped\n", id)
				return nil
			}
		case <-ticker.C:
			fmt.Fprintf(cmd.OutOrStdout(), "progress: %d%%\n", a.controller.GetRecordProgression())
		}
	}
}

// buildSelections maps the bitrate flags onto explicit track selections.
func buildSelections() (*models.SelectionSet, error) {
	set := models.NewSelectionSet()
	flagged := []models.TrackSelection{
		{Type: models.TrackTypeVideo, Bitrate: videoBitrate},
		{Type: models.TrackTypeAudio, Bitrate: audioBitrate},
		{Type: models.TrackTypeText, Bitrate: textBitrate},
		{Type: models.TrackTypeImage, Bitrate: imageBitrate},
	}
	for _, sel := range flagged {
		if sel.Bitrate <= 0 {
			continue
		}
		if err := set.Add(sel); err != nil {
			return nil, err
		}
	}
	return set, nil
}
