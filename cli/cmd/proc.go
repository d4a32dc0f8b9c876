package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel"
)

var procCmd = &cobra.Command{
	Use:   "proc",
	Short: "Run cryptographic procedures inside the vault boundary",
}

var procSlip10GenerateCmd = &cobra.Command{
	Use:   "slip10-generate",
	Short: "Generate a random seed record",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		hint, err := hintFromFlags(cmd)
		if err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")

		_, err = manager.Execute(snapshotPath, vaultName, citadel.SLIP10Generate{
			Output:    loc,
			SizeBytes: size,
			Hint:      hint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Seed generated at: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var procSlip10DeriveCmd = &cobra.Command{
	Use:   "slip10-derive",
	Short: "Derive a child key along a hardened chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		sourceName, _ := cmd.Flags().GetString("source")
		outputName, _ := cmd.Flags().GetString("output")
		sourceKind, _ := cmd.Flags().GetString("source-kind")
		chainFlag, _ := cmd.Flags().GetString("chain")
		hint, err := hintFromFlags(cmd)
		if err != nil {
			return err
		}

		chain, err := parseChain(chainFlag)
		if err != nil {
			return err
		}
		kind := citadel.SourceSeed
		if sourceKind == "key" {
			kind = citadel.SourceKey
		}

		output, err := manager.Execute(snapshotPath, vaultName, citadel.SLIP10Derive{
			Chain:      chain,
			SourceKind: kind,
			Source:     citadel.GenericLocation(vaultName, sourceName),
			Output:     citadel.GenericLocation(vaultName, outputName),
			Hint:       hint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Derived key at: %s/%s\n", vaultName, outputName)
		fmt.Printf("Chain code: %s\n", output.ChainCode)
		return persistIfRequested(cmd)
	},
}

var procBip39GenerateCmd = &cobra.Command{
	Use:   "bip39-generate",
	Short: "Generate a fresh mnemonic-derived seed record",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		passphrase, _ := cmd.Flags().GetString("passphrase")
		hint, err := hintFromFlags(cmd)
		if err != nil {
			return err
		}

		_, err = manager.Execute(snapshotPath, vaultName, citadel.BIP39Generate{
			Passphrase: passphrase,
			Output:     loc,
			Hint:       hint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Seed generated at: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var procBip39RecoverCmd = &cobra.Command{
	Use:   "bip39-recover",
	Short: "Recover a seed record from a mnemonic",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		mnemonic, _ := cmd.Flags().GetString("mnemonic")
		passphrase, _ := cmd.Flags().GetString("passphrase")
		hint, err := hintFromFlags(cmd)
		if err != nil {
			return err
		}

		_, err = manager.Execute(snapshotPath, vaultName, citadel.BIP39Recover{
			Mnemonic:   mnemonic,
			Passphrase: passphrase,
			Output:     loc,
			Hint:       hint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Seed recovered at: %s\n", loc)
		return persistIfRequested(cmd)
	},
}

var procEd25519PublicCmd = &cobra.Command{
	Use:   "ed25519-public",
	Short: "Print the public key for a private key record",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		output, err := manager.Execute(snapshotPath, vaultName, citadel.Ed25519PublicKey{PrivateKey: loc})
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(output.PublicKey))
		return nil
	},
}

var procEd25519SignCmd = &cobra.Command{
	Use:   "ed25519-sign",
	Short: "Sign a message with a private key record",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")
		loc, err := locationFromFlags(cmd, vaultName)
		if err != nil {
			return err
		}
		message, _ := cmd.Flags().GetString("message")
		if message == "" {
			return fmt.Errorf("a message is required: use --message")
		}
		output, err := manager.Execute(snapshotPath, vaultName, citadel.Ed25519Sign{
			PrivateKey: loc,
			Message:    []byte(message),
		})
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(output.Signature))
		return nil
	},
}

// parseChain parses a derivation chain like "44/4218/0" into indices.
func parseChain(chain string) ([]uint32, error) {
	if chain == "" {
		return nil, fmt.Errorf("a derivation chain is required: use --chain, e.g. 44/4218/0")
	}
	parts := strings.Split(strings.Trim(chain, "/"), "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSuffix(part, "'")
		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid chain segment %q: %w", part, err)
		}
		indices = append(indices, uint32(index))
	}
	return indices, nil
}

func init() {
	procs := []*cobra.Command{
		procSlip10GenerateCmd, procSlip10DeriveCmd,
		procBip39GenerateCmd, procBip39RecoverCmd,
		procEd25519PublicCmd, procEd25519SignCmd,
	}
	for _, cmd := range procs {
		cmd.Flags().String("vault", "default", "vault name")
	}
	for _, cmd := range []*cobra.Command{procSlip10GenerateCmd, procBip39GenerateCmd, procBip39RecoverCmd, procEd25519PublicCmd, procEd25519SignCmd} {
		addLocationFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{procSlip10GenerateCmd, procSlip10DeriveCmd, procBip39GenerateCmd, procBip39RecoverCmd} {
		cmd.Flags().String("hint", "", "record hint (truncated to 24 bytes)")
		cmd.Flags().Bool("save", false, "persist the snapshot afterwards")
	}

	procSlip10GenerateCmd.Flags().Int("size", 0, "seed size in bytes (0 selects the default)")
	procSlip10DeriveCmd.Flags().String("source", "", "source record name")
	procSlip10DeriveCmd.Flags().String("output", "", "output record name")
	procSlip10DeriveCmd.Flags().String("source-kind", "seed", "interpret source as seed or key")
	procSlip10DeriveCmd.Flags().String("chain", "", "derivation chain, e.g. 44/4218/0")
	procBip39GenerateCmd.Flags().String("passphrase", "", "optional BIP39 passphrase")
	procBip39RecoverCmd.Flags().String("mnemonic", "", "mnemonic phrase to recover from")
	procBip39RecoverCmd.Flags().String("passphrase", "", "optional BIP39 passphrase")
	procEd25519SignCmd.Flags().String("message", "", "message to sign")

	for _, cmd := range procs {
		procCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(procCmd)
}
