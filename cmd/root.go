package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/observability"
)

// app carries the state shared by every subcommand.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "ventureflow",
		Short:        "VentureFlow runs venture lifecycle stages through filters and gates.",
		Version:      observability.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./ventureflow.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(a),
		newRunStageCmd(a),
		newRunLoopCmd(a),
		newFilterCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// loadConfig reads the config file, environment and bound flags, then
// initializes the process logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	v := config.NewViper()
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("ventureflow")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	config.Set(cfg)
	a.v, a.cfg = v, cfg
	a.log = observability.InitializeLogger(cfg.Logger)
	a.log.Debug("Configuration loaded", zap.String("command", cmd.Name()))
	return nil
}

// flagKeys maps command flags onto config keys they override.
var flagKeys = map[string]string{
	"address":          "grpc.address",
	"metrics-address":  "grpc.metrics_address",
	"max-stages":       "orchestrator.max_stages",
	"strict-contracts": "orchestrator.strict_contracts",
	"wait-for-review":  "orchestrator.wait_for_review",
	"review-timeout":   "orchestrator.review_timeout",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}
	return nil
}
