package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cranesched/pluginhook/internal/pluginapi"
	"github.com/cranesched/pluginhook/internal/transport"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the plugin daemon",
	Long:  `Check the plugin daemon's hook service using the gRPC health protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient(transport.Target(socketPath), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp, err := healthpb.NewHealthClient(conn).Check(ctx,
			&healthpb.HealthCheckRequest{Service: pluginapi.ServiceName},
			grpc.WaitForReady(true))
		out := cmd.OutOrStdout()
		if err != nil {
			fmt.Fprintf(out, "✗ Plugin daemon is unhealthy: %v\n", err)
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			fmt.Fprintf(out, "✗ Plugin daemon is %s\n", resp.GetStatus())
			return fmt.Errorf("plugin daemon status %s", resp.GetStatus())
		}
		fmt.Fprintln(out, "✓ Plugin daemon is healthy")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
