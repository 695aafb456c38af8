package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nvme-uq/nvmeuq/internal/logging"
)

var (
	cfgFile string
	verbose bool
	log     *logging.Logger
)

func init() {
	cobra.OnInitialize(initConfig, initLogging)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("nvmeuqctl")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/nvmeuqctl/")
		viper.AutomaticEnv()
		viper.SetEnvPrefix("nvmeuqctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "nvmeuqctl: %v\n", err)
		}
	}
}

func initLogging() {
	cfg := logging.DefaultConfig()
	if verbose || viper.GetBool("verbose") {
		cfg.Level = logging.LevelDebug
	}
	log = logging.NewLogger(cfg)
	logging.SetDefault(log)
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nvmeuqctl",
		Short: "Drive a simulated NVMe user-space I/O queue engine",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./nvmeuqctl.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newDevicesCmd(),
		newQueueCmd(),
		newBenchCmd(),
		newServeCmd(),
	)
	return root
}

// Execute runs the root command. Called by main.main.
func Execute() {
	defer func() {
		if err := recover(); err != nil {
			fmt.Fprintf(os.Stderr, "nvmeuqctl: panic: %v\n%s\n", err, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
