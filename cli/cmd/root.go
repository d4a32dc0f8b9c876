package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/citadel"
	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/persist"
)

var (
	cfgFile      string
	snapshotPath string
	password     string
	manager      *citadel.Manager
	auditLogger  audit.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "citadel",
	Short: "A password-protected secret vault with cryptographic procedures",
	Long: `A password-protected secret-vault engine with durable encrypted snapshots.
Records are sealed with ChaCha20-Poly1305 under an argon2id-protected master
key. Cryptographic procedures (SLIP10, BIP39, Ed25519) run inside the vault
boundary; private key material never crosses it.`,
	PersistentPreRunE: initializeEngine,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if manager != nil {
			if err := manager.Close(); err != nil {
				return err
			}
		}
		if auditLogger != nil {
			return auditLogger.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.citadel.yaml)")
	rootCmd.PersistentFlags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot container path")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "snapshot password (or use CITADEL_PASSWORD env var)")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (filesystem, s3)")
	rootCmd.PersistentFlags().Duration("idle-timeout", 0, "lock unlocked snapshots after this idle period (0 disables)")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to keep secrets off swap")

	bindFlagOrPanic("snapshot.path", "snapshot")
	bindFlagOrPanic("snapshot.password", "password")
	bindFlagOrPanic("snapshot.store_type", "store-type")
	bindFlagOrPanic("snapshot.idle_timeout", "idle-timeout")
	bindFlagOrPanic("snapshot.memory_lock", "memory-lock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	bindFlagOrPanic("snapshot.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("snapshot.s3.region", "s3-region")
	bindFlagOrPanic("snapshot.s3.bucket", "s3-bucket")
	bindFlagOrPanic("snapshot.s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("snapshot.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("snapshot.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("snapshot.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	bindFlag(rootCmd.PersistentFlags(), configKey, flagName)
}

func bindFlag(flags *pflag.FlagSet, configKey, flagName string) {
	if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".citadel")
	}

	viper.SetEnvPrefix("CITADEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("snapshot.store_type", "filesystem")
	viper.SetDefault("snapshot.s3.region", "us-east-1")
	viper.SetDefault("snapshot.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "citadel-audit.log")
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)
}

func initializeEngine(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	snapshotPath = viper.GetString("snapshot.path")
	if snapshotPath == "" {
		return fmt.Errorf("snapshot path is required. Use --snapshot flag or CITADEL_SNAPSHOT_PATH environment variable")
	}

	password = viper.GetString("snapshot.password")
	if password == "" {
		return fmt.Errorf("snapshot password is required. Use --password flag or CITADEL_PASSWORD environment variable")
	}

	var err error
	auditLogger, err = audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: viper.GetStringMap("audit.options"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logging: %w", err)
	}

	options := citadel.Options{
		Store:            buildStoreConfig(),
		IdleTimeout:      viper.GetDuration("snapshot.idle_timeout"),
		EnableMemoryLock: viper.GetBool("snapshot.memory_lock"),
	}

	manager, err = citadel.NewManager(options, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err = manager.Unlock(snapshotPath, []byte(password)); err != nil {
		return fmt.Errorf("failed to unlock snapshot: %w", err)
	}
	return nil
}

func buildStoreConfig() persist.StoreConfig {
	storeType := persist.StoreType(viper.GetString("snapshot.store_type"))
	if storeType != persist.StoreTypeS3 {
		return persist.StoreConfig{Type: persist.StoreTypeFileSystem}
	}
	return persist.StoreConfig{
		Type: persist.StoreTypeS3,
		Config: map[string]interface{}{
			"endpoint":          viper.GetString("snapshot.s3.endpoint"),
			"region":            viper.GetString("snapshot.s3.region"),
			"bucket":            viper.GetString("snapshot.s3.bucket"),
			"key_prefix":        viper.GetString("snapshot.s3.key_prefix"),
			"access_key_id":     viper.GetString("snapshot.s3.access_key_id"),
			"secret_access_key": viper.GetString("snapshot.s3.secret_access_key"),
			"use_ssl":           viper.GetBool("snapshot.s3.use_ssl"),
		},
	}
}

// persistIfRequested saves the snapshot when --save is set on a mutating
// command.
func persistIfRequested(cmd *cobra.Command) error {
	save, err := cmd.Flags().GetBool("save")
	if err != nil || !save {
		return err
	}
	if err = manager.Save(snapshotPath); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

// parseDuration is a small helper for flags that accept "0" for disabled.
func parseDuration(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
