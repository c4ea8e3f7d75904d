package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/engine"
	"github.com/quizforge/quizforge/internal/hub"
	"github.com/quizforge/quizforge/internal/metrics"
	"github.com/quizforge/quizforge/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quizforge",
		Short: "Live multiple-choice quiz session server",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("database-url", "./data/quizforge.db", "path to the SQLite database file")
	f.String("secret-key", "", "signing key for presenter tokens (required)")
	f.String("allowed-origins", "http://localhost:5173,http://localhost:8080", "comma-separated CORS origins")
	f.Bool("registration-enabled", false, "allow presenter self-registration")
	f.String("host-lan-ip", "", "advisory LAN address for the network-info endpoint")
	f.Int("port", 8000, "HTTP port")

	// Bind flags to viper. Viper keys use underscores so they match the env
	// var suffix after stripping the QUIZFORGE_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("database_url", "database-url")
	bindFlag("secret_key", "secret-key")
	bindFlag("allowed_origins", "allowed-origins")
	bindFlag("registration_enabled", "registration-enabled")
	bindFlag("host_lan_ip", "host-lan-ip")
	bindFlag("port", "port")

	viper.SetEnvPrefix("QUIZFORGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bare variants recognized for deployment compatibility.
	_ = viper.BindEnv("database_url", "QUIZFORGE_DATABASE_URL", "DATABASE_URL")
	_ = viper.BindEnv("allowed_origins", "QUIZFORGE_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = viper.BindEnv("registration_enabled", "QUIZFORGE_REGISTRATION_ENABLED", "REGISTRATION_ENABLED")
	_ = viper.BindEnv("host_lan_ip", "QUIZFORGE_HOST_LAN_IP", "HOST_LAN_IP")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("QuizForge %s starting\n", config.Version)
	fmt.Printf("  Database: %s\n", cfg.DatabaseURL)
	fmt.Printf("  Port: :%d\n", cfg.Port)
	fmt.Printf("  Registration: %t\n", cfg.RegistrationEnabled)
	fmt.Println()

	if dir := filepath.Dir(cfg.DatabaseURL); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close() //nolint:errcheck

	jwtManager := auth.NewJWTManager(cfg.SecretKey, auth.DefaultTokenDuration)
	e := engine.New(database, hub.New())
	server := web.New(cfg, database, e, jwtManager, metrics.New())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down...", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	return nil
}
