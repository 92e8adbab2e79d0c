package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/arbwatch/cmd/bot"
	"github.com/michaelpento.lv/arbwatch/config"
	"github.com/michaelpento.lv/arbwatch/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbwatch",
	Short: "Watch two DEX routers for round-trip arbitrage",
	Long: `arbwatch polls two Uniswap V2 style routers, computes the round-trip
profit of every monitored token against the reference token and records
each check and each profitable opportunity in a local SQLite database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          run,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogger)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional, environment overrides it)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initLogger() {
	utils.InitLogger(debug)
}

func run(cmd *cobra.Command, args []string) error {
	log := utils.GetLogger()
	defer utils.CleanupLogger()

	// An explicitly passed --env-file must exist
	if err := config.LoadEnv(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bot.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Run(ctx); err != nil {
		log.Error("Monitor stopped with error", zap.Error(err))
		return err
	}
	return nil
}
