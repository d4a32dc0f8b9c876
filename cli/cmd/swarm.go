package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/citadel/comm"
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Serve the snapshot to remote peers",
}

var swarmServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for remote peer requests until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		allowAll, _ := cmd.Flags().GetBool("allow-all")
		allowPeers, _ := cmd.Flags().GetStringSlice("allow-peer")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		node := comm.NewNode(manager, comm.NodeConfig{
			Timeout: timeout,
			Audit:   auditLogger,
		})

		if allowAll {
			node.Firewall().AllowAll(nil, true)
		}
		if len(allowPeers) > 0 {
			node.Firewall().AllowAll(allowPeers, false)
		}

		addr, err := node.StartListening(listen)
		if err != nil {
			return err
		}

		info := node.SwarmInfo()
		fmt.Printf("Peer ID:   %s\n", info.PeerID)
		fmt.Printf("Listening: %s\n", addr)
		if !allowAll && len(allowPeers) == 0 {
			fmt.Println("Warning: no firewall rules set, all requests will be rejected")
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return node.Stop(ctx)
	},
}

func init() {
	swarmServeCmd.Flags().String("listen", "", "listen address as /ip4/<host>/tcp/<port> (default ephemeral loopback)")
	swarmServeCmd.Flags().Bool("allow-all", false, "grant every permission to every peer")
	swarmServeCmd.Flags().StringSlice("allow-peer", nil, "peer ID to grant every permission (repeatable)")
	swarmServeCmd.Flags().Duration("timeout", 0, "remote invocation timeout (0 selects the default)")

	swarmCmd.AddCommand(swarmServeCmd)
	rootCmd.AddCommand(swarmCmd)
}
