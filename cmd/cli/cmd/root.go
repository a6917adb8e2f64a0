package cmd

import (
	"errors"
	"fmt"
	"os"

	"buildstate/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "buildctl",
	Short: "buildctl is a command line tool for tracking image builds in buildstate",
	Long: `buildctl is the command-line interface for buildstate, the checkpoint tracker
for multi-stage image builds.

A build moves through numbered checkpoints (0-100). Every transition is appended
to the build's ledger; artifacts and variables recorded along the way let a
second worker resume a failed build from its last good checkpoint.

Common workflows:

  Start a build:
    buildctl start --platform aws --os-version rhel9 --image-type base

  Report progress:
    buildctl transition <build-id> 30 started
    buildctl transition <build-id> 30 completed

  Check a build and its history:
    buildctl status <build-id|build-number> --history

  Find where to resume:
    buildctl resume <build-id> --require AMI_ID

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    BUILDSTATE_URL      API endpoint (default: http://localhost:6161)
    BUILDSTATE_TOKEN    API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".buildctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".buildctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "BUILDSTATE_VARNAME"
	viper.SetEnvPrefix("BUILDSTATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// newClient returns an API client, or prints why it cannot and returns false.
func newClient(cmd *cobra.Command) (*client.Client, bool) {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the BUILDSTATE_TOKEN environment variable")
		return nil, false
	}
	return client.New(viper.GetString("url"), token), true
}

func printError(cmd *cobra.Command, err error) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		cmd.Printf("Error: %v\n", err)
		return
	}

	if apiErr.Kind != "" {
		cmd.Printf("Error (%d %s): %s\n", apiErr.StatusCode, apiErr.Kind, apiErr.Message)
	} else {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
	}
	for _, key := range apiErr.Missing {
		cmd.Printf("  missing: %s\n", key)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.buildctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "buildstate controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
