package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/catalog"
	"github.com/openagents/a2a-engine/pkg/executor"
	"github.com/openagents/a2a-engine/pkg/processor"
	"github.com/openagents/a2a-engine/pkg/push"
	"github.com/openagents/a2a-engine/pkg/service"
	"github.com/openagents/a2a-engine/pkg/sse"
	"github.com/openagents/a2a-engine/pkg/stores"
	"github.com/openagents/a2a-engine/pkg/stores/s3"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve an A2A agent",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore(cmd.Context())

			if err != nil {
				return err
			}

			registry := catalog.NewRegistry()
			registry.Register(processor.NewEcho())

			description := viper.GetString("agent.description")

			fanout := sse.NewFanout()
			pushService := push.NewService()

			ex := executor.New(executor.Config{
				Store:      store,
				Registry:   registry,
				Sinks:      []executor.Sink{fanout, pushService},
				MaxHistory: viper.GetInt("executor.maxHistory"),
			})

			srv := service.NewServer(service.Config{
				Addr: fmt.Sprintf("%s:%d", hostFlag, portFlag),
				Card: a2a.AgentCard{
					Name:        viper.GetString("agent.name"),
					Description: &description,
					Version:     viper.GetString("agent.version"),
					URL:         viper.GetString("agent.url"),
					Capabilities: a2a.AgentCapabilities{
						Streaming:              viper.GetBool("capabilities.streaming"),
						PushNotifications:      viper.GetBool("capabilities.pushNotifications"),
						StateTransitionHistory: viper.GetBool("capabilities.stateTransitionHistory"),
					},
				},
				Executor: ex,
				Registry: registry,
				Fanout:   fanout,
				Push:     pushService,
			})

			return srv.Start()
		},
	}
)

// buildStore picks the task store driver from config.
func buildStore(ctx context.Context) (stores.TaskStore, error) {
	switch driver := viper.GetString("store.driver"); driver {
	case "", "memory":
		return stores.NewInMemoryTaskStore(), nil
	case "s3":
		conn, err := s3.NewConn(ctx, s3.ConnConfig{
			Endpoint:  viper.GetString("store.s3.endpoint"),
			AccessKey: viper.GetString("store.s3.accessKey"),
			SecretKey: viper.GetString("store.s3.secretKey"),
			Bucket:    viper.GetString("store.s3.bucket"),
			UseSSL:    viper.GetBool("store.s3.useSSL"),
		})

		if err != nil {
			return nil, fmt.Errorf("failed to connect to s3 store: %w", err)
		}

		return s3.NewStore(conn), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
}

var longServe = `
Serve an A2A agent backed by the task execution engine.

Examples:
  # Serve on the default port with the in-memory store
  a2a-engine serve

  # Serve on port 8080
  a2a-engine serve --port 8080
`
