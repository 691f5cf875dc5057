package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"groupsched/internal/config"
	appLog "groupsched/internal/log"
)

const version = "0.1.0"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:           "groupsched",
		Short:         "Group scheduling engine: recurrence, conflicts, availability and turnout",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "groupsched.yaml", "Path to config file")

	rootCmd.AddCommand(newServeCmd(), newExpandCmd(), newConflictsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, overlays the environment and sets up
// logging from the result.
func loadConfig() (*config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", configPath)
		return nil, err
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}

	appLog.Configure(os.Stderr, conf.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}
