package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keygate/internal/config"
)

var (
	cfgFile    string
	dataDir    string
	devMode    bool
	appVersion string // set in Execute, reported by serve and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygate",
		Short: "Managed API keys and usage accounting for an AI gateway",
		Long: `keygate guards an OpenAI-compatible completion API with managed API keys.

Each key can carry a lifetime and a daily request limit and an expiry. Every
request made with a managed key is counted, and completion calls are captured
in a per-key audit log that operators browse through the admin API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keygate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for key, usage and audit files (default: ~/.local/share/keygate)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("keygate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/keygate")
	}

	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
	if dataDir != "" {
		viper.Set("data_dir", dataDir)
	}
	viper.ReadInConfig() // Ignore error - config file is optional
}

// loadConfig builds the effective configuration from flags, environment
// and the optional config file.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}
