package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rasusmilch/pt100-datalogger/internal/codec"
	"github.com/rasusmilch/pt100-datalogger/internal/dayfile"
)

var inspectDayCmdArgs struct {
	MountPoint string
	NodeID     string
	Date       string
}

var inspectDayCmd = &cobra.Command{
	Use:   "inspect-day",
	Short: "Run the resume scan against a day file and report its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectDay()
	},
}

func init() {
	inspectDayCmd.Flags().StringVar(&inspectDayCmdArgs.MountPoint, "mount", "sd", "Day-file mount point directory")
	inspectDayCmd.Flags().StringVar(&inspectDayCmdArgs.NodeID, "node-id", "node-1", "Node ID handed to the day file (not written: a newly created file gets only the fixed header line)")
	inspectDayCmd.Flags().StringVar(&inspectDayCmdArgs.Date, "date", time.Now().UTC().Format("2006-01-02"), "Calendar date (UTC, YYYY-MM-DD) to inspect")
}

func inspectDay() error {
	log, err := newLogger(rootCmdArgs.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	epoch, err := dayEpochUTC(inspectDayCmdArgs.Date)
	if err != nil {
		return err
	}

	df := dayfile.New(inspectDayCmdArgs.MountPoint, inspectDayCmdArgs.NodeID, codec.SchemaVersion, dayfile.DefaultTailScanBytes, time.UTC, log.Named("dayfile"))
	defer df.Close()

	if _, err := df.EnsureOpenFor(epoch); err != nil {
		return fmt.Errorf("logctl: open day file: %w", err)
	}

	fmt.Printf("mount_point:             %s\n", df.MountPoint())
	fmt.Printf("date:                    %s\n", df.CurrentDate())
	fmt.Printf("last_record_id_on_media: %d\n", df.LastRecordIDOnMedia())
	fmt.Printf("file_was_truncated:      %t\n", df.FileWasTruncated())
	return nil
}

// dayEpochUTC parses a YYYY-MM-DD date into a Unix epoch seconds value
// falling on that UTC calendar date, suitable for EnsureOpenFor.
func dayEpochUTC(date string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("logctl: bad --date %q: %w", date, err)
	}
	return t.Unix(), nil
}
