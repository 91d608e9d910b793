// Command tasksync-lambda serves the tasksync HTTP API as an AWS Lambda
// function behind API Gateway.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/spf13/viper"

	"github.com/GoCodeAlone/tasksync/config"
	"github.com/GoCodeAlone/tasksync/internal/app"
	"github.com/GoCodeAlone/tasksync/internal/version"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tasksync-lambda: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger.Info("starting tasksync-lambda", slog.String("version", version.String()))

	h, err := newHandler(cfg, logger)
	if err != nil {
		logger.Error("init", slog.Any("err", err))
		os.Exit(1)
	}
	if os.Getenv("TASKSYNC_PAYLOAD_VERSION") == "2.0" {
		lambda.Start(httpadapter.NewV2(h).ProxyWithContext)
		return
	}
	lambda.Start(httpadapter.New(h).ProxyWithContext)
}

// newHandler builds the HTTP handler served to API Gateway. Function
// instances are ephemeral, so there is no journal or scheduler.
func newHandler(cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	a, err := app.New(cfg, app.Options{}, logger)
	if err != nil {
		return nil, err
	}
	return a.Server.Handler(), nil
}

// loadConfig reads TASKSYNC_CONFIG when set, then applies TASKSYNC_*
// environment overrides.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	for key, dst := range map[string]*string{
		"log_level":            &cfg.LogLevel,
		"weekmap":              &cfg.WeekMap.Path,
		"notion.base_url":      &cfg.Notion.BaseURL,
		"databases.tasks":      &cfg.Databases.Tasks,
		"databases.milestones": &cfg.Databases.Milestones,
	} {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	return cfg, cfg.Validate()
}
