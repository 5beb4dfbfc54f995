package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/krishi-saathi/pkg/config"
	logx "github.com/tanpawarit/krishi-saathi/pkg/logger"
	_ "github.com/tanpawarit/krishi-saathi/pkg/logger/autoload"
)

var (
	envFile     string
	debugLog    bool
	prettyLog   bool
	callerID    string
	askText     string
	askAudio    string
	askMedia    string
	askMIMEType string
	askChannel  string
)

var rootCmd = &cobra.Command{
	Use:   "krishi",
	Short: "Krishi Saathi farm advisory backend",
	Long: `Krishi Saathi answers farmers over IVR calls and WhatsApp with crop,
weather, market, disease, finance and buyer linkage advice.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			configx.SetEnvFile(envFile)
		}
		conf, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return fmt.Errorf("load log config: %w", err)
		}
		if debugLog {
			conf.Debug = true
		}
		if prettyLog {
			conf.PrettyFormat = true
		}
		logx.Init(*conf)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE:  runServe,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send one request through the dispatcher and print the reply",
	RunE:  runAsk,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete sessions idle longer than STORE_IDLE_TTL",
	RunE:  runSweep,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load instead of ./.env")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "human readable log output")

	askCmd.Flags().StringVar(&callerID, "caller", "+910000000000", "caller id")
	askCmd.Flags().StringVar(&askText, "text", "", "spoken or typed text")
	askCmd.Flags().StringVar(&askAudio, "audio", "", "recording url to transcribe")
	askCmd.Flags().StringVar(&askMedia, "media", "", "image url")
	askCmd.Flags().StringVar(&askMIMEType, "media-type", "", "image content type")
	askCmd.Flags().StringVar(&askChannel, "channel", "whatsapp", "ivr or whatsapp")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
