package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/Chative-Retail-Agent/pkg/config"
	_ "github.com/tanpawarit/Chative-Retail-Agent/pkg/logger/autoload"
)

var envFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retail-agent",
		Short: "Conversational ordering agent for small retail shops",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configx.SetEnvFile(envFile)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env", "", "path to a .env file (default ./.env when present)")

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("retail-agent failed")
		os.Exit(1)
	}
}
