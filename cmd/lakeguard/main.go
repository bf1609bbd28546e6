package main

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/config"
)

var (
	buildVersion = "unknown"
	buildDate    = "unknown"
	cfgFile      string
	logLevel     string
	opts         = config.Default()
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rootCmd represents the root command
var rootCmd = &cobra.Command{
	Use:           "lakeguard",
	Short:         "Baseline-driven anomaly and event detection for lake water quality",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return opts.Validate()
	},
}

// initConfig use config file and ENV variables if set.
func initConfig() {
	v, cfgErr := config.NewViper(cfgFile)
	config.BindFlags(rootCmd.PersistentFlags(), v)

	initLogger()

	if cfgErr != nil {
		log.Debugf("Read config error: %v", cfgErr)
	}
}

func initLogger() {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	log.SetFormatter(&log.TextFormatter{DisableColors: false, FullTimestamp: true, PadLevelText: true, DisableQuote: true})
	log.SetOutput(os.Stderr)
}

func dumpConfig(o *config.Options) {
	configAsJSON, err := json.MarshalIndent(o, "", "    ")
	if err != nil {
		panic(fmt.Sprintf("error dumping config: %v", err))
	}
	log.Infof("Using configuration:\n%s", configAsJSON)
}

func initFlags() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is $HOME/%s)", config.DefaultConfigFileName))
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warning, error")
	config.RegisterFlags(rootCmd.PersistentFlags(), &opts)

	rootCmd.AddCommand(newServeCmd(), newFitCmd(), newDetectCmd(), newScanCmd(), newSimulateCmd(), newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Build version: %s\nBuild date: %s\n", buildVersion, buildDate)
		},
	}
}

func main() {
	// Initialize flags (command line parameters)
	initFlags()

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
