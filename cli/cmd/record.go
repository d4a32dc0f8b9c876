package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage vault records (write-only, procedure-gated)",
}

var recordPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Write a record into a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		data, err := recordDataFromFlags(cmd)
		if err != nil {
			return err
		}
		hint, err := hintFromFlags(cmd)
		if err != nil {
			return err
		}

		vault := manager.OpenVault(snapshotPath, vaultName)
		if err = vault.SaveRecord(loc, data, hint); err != nil {
			return err
		}
		fmt.Printf("Record written: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var recordCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a record exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		exists, err := manager.OpenVault(snapshotPath, vaultName).ContainsRecord(loc)
		if err != nil {
			return err
		}
		if exists {
			fmt.Printf("Record exists: %s\n", loc)
		} else {
			fmt.Printf("No record at: %s\n", loc)
		}
		return nil
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records and hints in a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		infos, err := manager.OpenVault(snapshotPath, vaultName).ListRecords()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Printf("Vault %q is empty\n", vaultName)
			return nil
		}
		for _, info := range infos {
			if info.Hint.IsZero() {
				fmt.Println(info.Location)
			} else {
				fmt.Printf("%s\t%s\n", info.Location, info.Hint)
			}
		}
		return nil
	},
}

var recordRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Revoke a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		collect, _ := cmd.Flags().GetBool("gc")
		if err = manager.RemoveRecord(snapshotPath, vaultName, loc, collect); err != nil {
			return err
		}
		fmt.Printf("Record revoked: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{recordPutCmd, recordCheckCmd, recordListCmd, recordRemoveCmd} {
		cmd.Flags().String("vault", "default", "vault name")
	}
	for _, cmd := range []*cobra.Command{recordPutCmd, recordCheckCmd, recordRemoveCmd} {
		addLocationFlags(cmd)
	}
	recordPutCmd.Flags().String("data", "", "record payload")
	recordPutCmd.Flags().String("data-file", "", "file holding the record payload")
	recordPutCmd.Flags().String("hint", "", "record hint (truncated to 24 bytes)")
	recordPutCmd.Flags().Bool("save", false, "persist the snapshot after the write")
	recordRemoveCmd.Flags().Bool("save", false, "persist the snapshot after the removal")
	recordRemoveCmd.Flags().Bool("gc", false, "reclaim expired and empty state with the removal")

	recordCmd.AddCommand(recordPutCmd)
	recordCmd.AddCommand(recordCheckCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordRemoveCmd)
	rootCmd.AddCommand(recordCmd)
}
