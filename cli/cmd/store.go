package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage store entries (readable encrypted key-value space)",
}

var storePutCmd = &cobra.Command{
	Use:   "put",
	Short: "Write a store entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeName, _ := cmd.Flags().GetString("store")
		loc, err := locationFromFlags(cmd, storeName)
		if err != nil {
			return err
		}
		data, err := recordDataFromFlags(cmd)
		if err != nil {
			return err
		}
		lifetimeFlag, _ := cmd.Flags().GetString("lifetime")
		lifetime, err := parseDuration(lifetimeFlag)
		if err != nil {
			return fmt.Errorf("invalid lifetime: %w", err)
		}

		store := manager.OpenStore(snapshotPath, storeName)
		if err = store.Save(loc, data, lifetime); err != nil {
			return err
		}
		fmt.Printf("Entry written: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Read a store entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeName, _ := cmd.Flags().GetString("store")
		loc, err := locationFromFlags(cmd, storeName)
		if err != nil {
			return err
		}
		value, err := manager.OpenStore(snapshotPath, storeName).Get(loc)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(value, '\n'))
		return err
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Delete a store entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeName, _ := cmd.Flags().GetString("store")
		loc, err := locationFromFlags(cmd, storeName)
		if err != nil {
			return err
		}
		if err = manager.RemoveStoreRecord(snapshotPath, storeName, loc); err != nil {
			return err
		}
		fmt.Printf("Entry removed: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var storeGcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim expired entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeName, _ := cmd.Flags().GetString("store")
		if err := manager.GarbageCollect(snapshotPath, storeName); err != nil {
			return err
		}
		fmt.Println("Garbage collection complete")
		return persistIfRequested(cmd)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{storePutCmd, storeGetCmd, storeRemoveCmd, storeGcCmd} {
		cmd.Flags().String("store", "default", "store name")
	}
	for _, cmd := range []*cobra.Command{storePutCmd, storeGetCmd, storeRemoveCmd} {
		addLocationFlags(cmd)
	}
	storePutCmd.Flags().String("data", "", "entry payload")
	storePutCmd.Flags().String("data-file", "", "file holding the entry payload")
	storePutCmd.Flags().String("lifetime", "0", "entry lifetime, e.g. 24h (0 means no expiry)")
	for _, cmd := range []*cobra.Command{storePutCmd, storeRemoveCmd, storeGcCmd} {
		cmd.Flags().Bool("save", false, "persist the snapshot afterwards")
	}

	storeCmd.AddCommand(storePutCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeRemoveCmd)
	storeCmd.AddCommand(storeGcCmd)
	rootCmd.AddCommand(storeCmd)
}
