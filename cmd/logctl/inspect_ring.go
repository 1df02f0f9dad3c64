package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rasusmilch/pt100-datalogger/internal/nvblock"
	"github.com/rasusmilch/pt100-datalogger/internal/ring"
)

var inspectRingCmdArgs struct {
	NvramPath string
	NvramSize uint32
}

var inspectRingCmd = &cobra.Command{
	Use:   "inspect-ring",
	Short: "Print DurableRing header and cursor state from an NVRAM file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectRing()
	},
}

func init() {
	inspectRingCmd.Flags().StringVar(&inspectRingCmdArgs.NvramPath, "nvram", "nvram.bin", "Path to the NVRAM-backed file")
	inspectRingCmd.Flags().Uint32Var(&inspectRingCmdArgs.NvramSize, "nvram-size", 256+256*64, "Size in bytes of the NVRAM device")
}

func inspectRing() error {
	log, err := newLogger(rootCmdArgs.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	nv, err := nvblock.OpenFileDevice(inspectRingCmdArgs.NvramPath, inspectRingCmdArgs.NvramSize)
	if err != nil {
		return fmt.Errorf("logctl: open nvram device: %w", err)
	}
	defer nv.Close()

	r, err := ring.Open(nv, log.Named("ring"))
	if err != nil {
		return fmt.Errorf("logctl: open ring: %w", err)
	}

	fmt.Printf("capacity:              %d\n", r.Capacity())
	fmt.Printf("count:                 %d\n", r.Count())
	fmt.Printf("next_sequence:         %d\n", r.NextSequence())
	fmt.Printf("next_record_id:        %d\n", r.NextRecordID())
	fmt.Printf("overrun_records_total: %d\n", r.OverrunRecordsTotal())
	fmt.Printf("saw_corruption:        %t\n", r.SawCorruption())

	if r.Count() > 0 {
		head, err := r.PeekOldest()
		if err != nil {
			fmt.Printf("head record: <unreadable: %v>\n", err)
		} else {
			fmt.Printf("head record: record_id=%d sequence=%d epoch=%d\n", head.RecordID, head.Sequence, head.TimestampEpochSec)
		}
	}
	return nil
}
