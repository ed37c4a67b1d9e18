package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/chatbridge/internal/profile"
	"github.com/hrygo/chatbridge/plugin/ai"
	"github.com/hrygo/chatbridge/plugin/telegram"
	"github.com/hrygo/chatbridge/server"
	"github.com/hrygo/chatbridge/server/service/relay"
	"github.com/hrygo/chatbridge/store"
	"github.com/hrygo/chatbridge/store/cache"
	"github.com/hrygo/chatbridge/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "chatbridge",
	Short: "Message relay between a chat transport and a hosted AI assistant",
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version,
		}
		if err := instanceProfile.FromEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}
		if err := instanceProfile.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		setupLogger(instanceProfile)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, instanceProfile); err != nil {
			slog.Error("failed to run server", "error", err)
			stop()
			os.Exit(1)
		}
	},
}

func run(ctx context.Context, instanceProfile *profile.Profile) error {
	driver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return err
	}

	var shared cache.KV
	var redisTier *cache.Redis
	if instanceProfile.IsRedisEnabled() {
		config := cache.DefaultRedisConfig()
		config.Addr = instanceProfile.RedisAddr
		config.Password = instanceProfile.RedisPassword
		config.DB = instanceProfile.RedisDB
		config.DefaultTTL = instanceProfile.SessionCacheTTL
		redisTier, err = cache.NewRedis(config)
		if err != nil {
			// The durable tier alone is enough to serve traffic.
			slog.Warn("shared cache tier unavailable, continuing without it", "error", err)
		} else {
			shared = redisTier
		}
	}

	st := store.New(driver, instanceProfile, shared)
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	assistant, err := ai.NewOpenAIAssistant(&ai.Config{
		BaseURL:     instanceProfile.OpenAIBaseURL,
		APIKey:      instanceProfile.OpenAIAPIKey,
		AssistantID: instanceProfile.AssistantID,
		RunTimeout:  instanceProfile.RunTimeout,
	})
	if err != nil {
		return err
	}

	transport := telegram.NewClient(instanceProfile.TelegramToken)
	relayService := relay.NewService(instanceProfile, st, assistant, transport)

	s := server.NewServer(instanceProfile, st, relayService, transport, redisTier)
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()
	s.Shutdown(shutdownCtx)
	return nil
}

func setupLogger(instanceProfile *profile.Profile) {
	level := slog.LevelInfo
	if instanceProfile.IsDev() {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if instanceProfile.IsDev() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of the server")
	rootCmd.PersistentFlags().Int("port", 8230, "port of the server")
	rootCmd.PersistentFlags().String("data", ".", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8230)
	viper.SetEnvPrefix("chatbridge")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
