package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/mcpsession"
	"github.com/superxlabs/superx/pkg/push"
	"github.com/superxlabs/superx/pkg/service"
	"github.com/superxlabs/superx/pkg/worker"
)

var (
	addrFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := gatewayConfig()
			if addrFlag != "" {
				config.Addr = addrFlag
			}

			gateway := service.NewGateway(config)
			seedAgents(gateway)

			// Graceful shutdown on SIGINT/SIGTERM.
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig

				log.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := gateway.Shutdown(ctx); err != nil {
					log.Error("shutdown failed", "error", err)
				}
			}()

			return gateway.Start()
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&addrFlag, "addr", "a", "", "listen address, overrides the config file")
}

// gatewayConfig builds the service config from viper, with millisecond
// keys matching the config file.
func gatewayConfig() service.Config {
	config := service.DefaultConfig()

	if addr := viper.GetString("server.addr"); addr != "" {
		config.Addr = addr
	}
	if url := viper.GetString("server.public_url"); url != "" {
		config.PublicURL = url
	}
	config.KeepAliveInterval = durationMS("server.keepalive_interval_ms", config.KeepAliveInterval)
	config.CardFetchTimeout = durationMS("server.card_fetch_timeout_ms", config.CardFetchTimeout)

	config.Worker = worker.Config{
		MaxInFlight:      viperIntDefault("worker.max_in_flight", config.Worker.MaxInFlight),
		FailureThreshold: viperIntDefault("worker.failure_threshold", config.Worker.FailureThreshold),
		FailureWindow:    durationMS("worker.failure_window_ms", config.Worker.FailureWindow),
		Cooldown:         durationMS("worker.cooldown_ms", config.Worker.Cooldown),
		CallTimeout:      durationMS("worker.call_timeout_ms", config.Worker.CallTimeout),
	}

	config.Push = push.Config{
		MaxAttempts: viperIntDefault("push.max_attempts", config.Push.MaxAttempts),
		BackoffBase: durationMS("push.backoff_base_ms", config.Push.BackoffBase),
		Timeout:     durationMS("push.timeout_ms", config.Push.Timeout),
		JWTTTL:      durationMS("push.jwt_ttl_ms", config.Push.JWTTTL),
		JWTSkew:     durationMS("push.jwt_skew_ms", config.Push.JWTSkew),
	}

	config.Session = mcpsession.Config{
		ClientName:    viper.GetString("session.client_name"),
		ClientVersion: viper.GetString("session.client_version"),
		CloseTimeout:  durationMS("session.close_timeout_ms", config.Session.CloseTimeout),
	}

	return config
}

// seedAgents registers agents declared in the config file.
func seedAgents(gateway *service.Gateway) {
	var seeds []struct {
		ID              string         `mapstructure:"id"`
		URL             string         `mapstructure:"url"`
		Bearer          string         `mapstructure:"bearer"`
		Protocol        string         `mapstructure:"protocol"`
		ProtocolVersion string         `mapstructure:"protocol_version"`
		Metadata        map[string]any `mapstructure:"metadata"`
	}

	if err := viper.UnmarshalKey("agents", &seeds); err != nil {
		log.Warn("cannot decode seed agents", "error", err)
		return
	}

	for _, seed := range seeds {
		if seed.ID == "" || seed.URL == "" {
			log.Warn("skipping seed agent without id or url")
			continue
		}
		gateway.Catalog().Upsert(&a2a.Agent{
			ID:              seed.ID,
			URL:             seed.URL,
			Bearer:          seed.Bearer,
			Protocol:        seed.Protocol,
			ProtocolVersion: seed.ProtocolVersion,
			Metadata:        seed.Metadata,
		})
	}
}

func durationMS(key string, fallback time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return fallback
	}
	ms := viper.GetInt(key)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func viperIntDefault(key string, fallback int) int {
	if !viper.IsSet(key) {
		return fallback
	}
	v := viper.GetInt(key)
	if v <= 0 {
		return fallback
	}
	return v
}

var longServe = `
Run the SuperX gateway: JSON-RPC intake at /rpc, per-agent wire endpoints
at /agents/:id, hosted agent cards, SSE streaming and signed webhook
delivery.
`
