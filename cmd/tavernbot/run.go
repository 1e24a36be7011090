package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/bus"
	"tavernbot/pkg/channels"
	"tavernbot/pkg/characters"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/convo"
	"tavernbot/pkg/cron"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/features"
	"tavernbot/pkg/heartbeat"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
	"tavernbot/pkg/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	Long: `Run the bot in the foreground, or control the system service.

Examples:
  # Run in foreground (default)
  tavernbot run

  # Install as a system service (requires sudo/admin privileges)
  sudo tavernbot run install

  # Control the service
  sudo tavernbot run start
  sudo tavernbot run stop
  sudo tavernbot run restart
  sudo tavernbot run status

  # Uninstall the service
  sudo tavernbot run uninstall`,
	Run: runDefault,
}

var runInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the bot as a system service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := InstallService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error installing service: %v\n", err)
			fmt.Fprintln(os.Stderr, "\nNote: installing system services requires administrator privileges.")
			os.Exit(1)
		}
	},
}

var runUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the system service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := UninstallService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error uninstalling service: %v\n", err)
			os.Exit(1)
		}
	},
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the system service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := StartService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting service: %v\n", err)
			os.Exit(1)
		}
	},
}

var runStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the system service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := StopService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping service: %v\n", err)
			os.Exit(1)
		}
	},
}

var runRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the system service",
	Run: func(cmd *cobra.Command, args []string) {
		if err := RestartService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error restarting service: %v\n", err)
			os.Exit(1)
		}
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the system service status",
	Run: func(cmd *cobra.Command, args []string) {
		if err := StatusService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error checking service status: %v\n", err)
			os.Exit(1)
		}
	},
}

var runServiceCmd = &cobra.Command{
	Use:    "service",
	Short:  "Run under the service manager",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := RunService(); err != nil {
			fmt.Fprintf(os.Stderr, "Error running service: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.AddCommand(runInstallCmd)
	runCmd.AddCommand(runUninstallCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runStopCmd)
	runCmd.AddCommand(runRestartCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runServiceCmd)
}

func runDefault(cmd *cobra.Command, args []string) {
	runForeground()
}

// appModules assembles the full application. Invokes run in listing order,
// which fixes command registration order: the built-in meta commands first,
// then the feature set, then characters.
func appModules() []fx.Option {
	if configPath != "" {
		os.Setenv(config.ConfigPathEnv, configPath)
	}

	return []fx.Option{
		config.Module,
		logger.Module,
		state.Module,
		bus.Module,
		settings.Module,
		commands.Module,
		dispatch.Module,
		auth.Module,
		cron.Module,
		features.Module,
		characters.Module,
		convo.Module,
		channels.Module,
		heartbeat.Module,
	}
}

func runForeground() {
	opts := append(appModules(),
		fx.Invoke(func(lc fx.Lifecycle, log *logger.Logger, cm *channels.Manager, cfg *config.Config) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					log.Info("Bot started",
						zap.String("mode", "foreground"),
						zap.String("prefix", cfg.EffectivePrefix()),
						zap.Int("channels", len(cm.ListChannels())))
					log.Info("Press Ctrl+C to stop")
					return nil
				},
			})
		}),
	)
	app := fx.New(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	app.Run()

	<-ctx.Done()
}
