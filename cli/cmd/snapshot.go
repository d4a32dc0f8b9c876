package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage the snapshot lifecycle",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the snapshot container to its store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Save(snapshotPath); err != nil {
			return err
		}
		fmt.Printf("Snapshot saved: %s\n", snapshotPath)
		return nil
	},
}

var snapshotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the snapshot lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := manager.Status(snapshotPath)
		fmt.Printf("Path:  %s\n", snapshotPath)
		fmt.Printf("State: %s\n", status.State)
		if status.IdleSince > 0 {
			fmt.Printf("Idle:  %s\n", status.IdleSince.Round(time.Millisecond))
		}
		fmt.Printf("Memory protection: %s\n", manager.MemoryProtection())
		return nil
	},
}

var snapshotLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the snapshot, zeroing its key material in memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Lock(snapshotPath); err != nil {
			return err
		}
		fmt.Printf("Snapshot locked: %s\n", snapshotPath)
		return nil
	},
}

var snapshotDestroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Wipe the snapshot from memory, keeping the persisted container",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Destroy(snapshotPath); err != nil {
			return err
		}
		fmt.Printf("Snapshot destroyed (container kept): %s\n", snapshotPath)
		return nil
	},
}

var snapshotPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Wipe the snapshot from memory and delete its container",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}
		if !confirmed {
			return fmt.Errorf("purge deletes the persisted container; re-run with --yes to confirm")
		}
		if err = manager.Purge(snapshotPath); err != nil {
			return err
		}
		fmt.Printf("Snapshot purged: %s\n", snapshotPath)
		return nil
	},
}

func init() {
	snapshotPurgeCmd.Flags().Bool("yes", false, "confirm container deletion")

	snapshotCmd.AddCommand(snapshotSaveCmd)
	snapshotCmd.AddCommand(snapshotStatusCmd)
	snapshotCmd.AddCommand(snapshotLockCmd)
	snapshotCmd.AddCommand(snapshotDestroyCmd)
	snapshotCmd.AddCommand(snapshotPurgeCmd)
	rootCmd.AddCommand(snapshotCmd)
}
