package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/supremind/perm"
	"github.com/supremind/perm/persist/file"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "permcli",
	Short:         "query PERM policies from the command line",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./permcli.yaml)")
	rootCmd.PersistentFlags().String("model", "", "model file path")
	rootCmd.PersistentFlags().String("policy", "", "policy CSV path")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity")

	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("policy", rootCmd.PersistentFlags().Lookup("policy"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(checkCmd, rolesCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("permcli")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("PERMCLI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintln(os.Stderr, "read config:", err)
		}
	}
}

// newEngine builds a throwaway engine from the configured model and policy
func newEngine(ctx context.Context) (*perm.Engine, error) {
	modelPath := viper.GetString("model")
	if modelPath == "" {
		return nil, fmt.Errorf("no model file, pass --model or set it in the config")
	}

	stdr.SetVerbosity(viper.GetInt("verbose") * 4)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	opts := []perm.Option{
		perm.WithName("permcli"),
		perm.WithModelFile(modelPath),
		perm.WithLogger(logger),
	}
	if policyPath := viper.GetString("policy"); policyPath != "" {
		opts = append(opts, perm.WithAdapter(file.NewAdapter(policyPath)))
	}

	return perm.New(ctx, opts...)
}
