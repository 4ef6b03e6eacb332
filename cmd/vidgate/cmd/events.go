package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidgate/internal/database"
	"github.com/jmylchreest/vidgate/internal/models"
	"github.com/jmylchreest/vidgate/internal/repository"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded motion events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged motion events, newest first",
	RunE:  runEventsList,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)

	eventsListCmd.Flags().String("stream", "", "stream name (defaults to output.stream)")
	eventsListCmd.Flags().Duration("since", 24*time.Hour, "only events started within this window (0 for all)")
	eventsListCmd.Flags().Int("limit", 50, "maximum number of events (0 for no limit)")
	eventsListCmd.Flags().Bool("json", false, "output as JSON")
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("event catalog is disabled (database.enabled=false)")
	}

	stream := cfg.Output.Stream
	if cmd.Flags().Changed("stream") {
		stream, _ = cmd.Flags().GetString("stream")
	}
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening event catalog: %w", err)
	}
	defer db.Close()

	var from time.Time
	if since > 0 {
		from = time.Now().UTC().Add(-since)
	}
	events, err := repository.NewMotionEventRepository(db.DB).ListByStream(cmd.Context(), stream, from, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	return printEvents(events)
}

func printEvents(events []*models.MotionEvent) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tFRAMES\tSTATUS\tLOCATION")
	for _, ev := range events {
		location := ev.ObjectKey
		if location == "" {
			location = ev.ClipPath
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.ID, ev.StartedAt.Local().Format(time.DateTime),
			ev.Duration().Round(time.Millisecond), ev.Frames, ev.Status, location)
	}
	return w.Flush()
}
