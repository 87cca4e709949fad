package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddrown/chrony-nts/internal/keyring"
)

var cookieStatsCmd = &cobra.Command{
	Use:   "cookie-stats",
	Short: "Print key-ring slot ids and rotation history for a fresh ring",
	Long: `cookie-stats builds a key ring exactly as serve would and dumps its
slot ids and rotation history. It does not attach to an already-running
server's ring -- the core keeps no persisted state across restarts -- so
this is primarily useful as a quick sanity check of the ring's startup
behavior and rotation cadence.`,
	RunE: runCookieStats,
}

func init() {
	rootCmd.AddCommand(cookieStatsCmd)
}

func runCookieStats(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	ring, err := keyring.New(nil)
	if err != nil {
		return fmt.Errorf("building key ring: %w", err)
	}

	keyID, _ := ring.Current()
	fmt.Printf("active key id: %d\n", keyID)
	fmt.Println("rotation history:")
	for _, ev := range ring.History() {
		fmt.Printf("  %s  slot=%d key_id=%d\n", ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Slot, ev.KeyID)
	}

	return nil
}
