package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/fx"

	"tavernbot/pkg/config"
)

// BotService implements service.Interface for the system service manager.
type BotService struct {
	app    *fx.App
	logger service.Logger
}

// NewBotService creates a new bot service.
func NewBotService() *BotService {
	return &BotService{}
}

// Start implements service.Interface.Start.
func (s *BotService) Start(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Starting tavernbot service")
	}

	go s.run()

	return nil
}

// Stop implements service.Interface.Stop.
func (s *BotService) Stop(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Stopping tavernbot service")
	}

	if s.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.app.Stop(ctx); err != nil {
			if s.logger != nil {
				s.logger.Errorf("Error stopping service: %v", err)
			}
			return err
		}
	}

	return nil
}

func (s *BotService) run() {
	opts := append(appModules(), fx.NopLogger)
	s.app = fx.New(opts...)
	s.app.Run()
}

// ServiceConfig returns the service manager configuration. The config file
// location is baked into the service arguments so the daemon finds the same
// config the installer saw.
func ServiceConfig() *service.Config {
	args := []string{"run", "service"}

	effectivePath := strings.TrimSpace(configPath)
	if effectivePath == "" {
		effectivePath = strings.TrimSpace(os.Getenv(config.ConfigPathEnv))
	}
	if effectivePath != "" {
		args = append([]string{"-c", effectivePath}, args...)
	}

	return &service.Config{
		Name:        "tavernbot",
		DisplayName: "Tavernbot",
		Description: "Discord bot for tabletop groups",
		Arguments:   args,
	}
}

// InstallService registers the bot with the system service manager.
func InstallService() error {
	prg := NewBotService()
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	svcLogger, err := s.Logger(nil)
	if err != nil {
		return fmt.Errorf("creating service logger: %w", err)
	}
	prg.logger = svcLogger

	if err := s.Install(); err != nil {
		return fmt.Errorf("installing service: %w", err)
	}

	fmt.Println("Service installed.")
	fmt.Println("Use 'tavernbot run start' to start it.")
	return nil
}

// UninstallService removes the bot from the system service manager.
func UninstallService() error {
	s, err := service.New(NewBotService(), ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("uninstalling service: %w", err)
	}

	fmt.Println("Service uninstalled.")
	return nil
}

// StartService starts the installed service.
func StartService() error {
	s, err := service.New(NewBotService(), ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	fmt.Println("Service started.")
	return nil
}

// StopService stops the running service.
func StopService() error {
	s, err := service.New(NewBotService(), ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if err := s.Stop(); err != nil {
		return fmt.Errorf("stopping service: %w", err)
	}

	fmt.Println("Service stopped.")
	return nil
}

// RestartService restarts the service.
func RestartService() error {
	s, err := service.New(NewBotService(), ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if err := s.Restart(); err != nil {
		return fmt.Errorf("restarting service: %w", err)
	}

	fmt.Println("Service restarted.")
	return nil
}

// StatusService prints the service status.
func StatusService() error {
	s, err := service.New(NewBotService(), ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	status, err := s.Status()
	if err != nil {
		return fmt.Errorf("getting service status: %w", err)
	}

	statusStr := "Unknown"
	switch status {
	case service.StatusRunning:
		statusStr = "Running"
	case service.StatusStopped:
		statusStr = "Stopped"
	}

	fmt.Printf("Service status: %s\n", statusStr)
	return nil
}

// RunService runs under the service manager (called by 'run service').
func RunService() error {
	prg := NewBotService()
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	svcLogger, err := s.Logger(nil)
	if err != nil {
		return fmt.Errorf("creating service logger: %w", err)
	}
	prg.logger = svcLogger

	if err := s.Run(); err != nil {
		svcLogger.Error(err)
		return err
	}

	return nil
}
