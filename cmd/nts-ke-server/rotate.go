package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddrown/chrony-nts/internal/keyring"
)

var rotateNowCmd = &cobra.Command{
	Use:   "rotate-now",
	Short: "Force one key-ring rotation and print the result",
	Long: `rotate-now builds a key ring the same way serve would and forces a
single rotation outside its normal schedule. Because the ring is
process-local, in-memory state (spec.md's Non-goals exclude multi-process
cookie sharing), this does not reach into an already-running server's
ring -- it is an operational smoke test of the rotation path. Each run
starts from a fresh ring and rotates it exactly once, so repeated runs
do not accumulate rotations.`,
	RunE: runRotateNow,
}

func init() {
	rootCmd.AddCommand(rotateNowCmd)
}

func runRotateNow(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	ring, err := keyring.New(nil)
	if err != nil {
		return fmt.Errorf("building key ring: %w", err)
	}

	if err := ring.RotateNow(); err != nil {
		return fmt.Errorf("rotating: %w", err)
	}

	keyID, _ := ring.Current()
	fmt.Printf("rotated; active key id: %d\n", keyID)

	for _, ev := range ring.History() {
		fmt.Printf("  %s  slot=%d key_id=%d\n", ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Slot, ev.KeyID)
	}

	return nil
}
