package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aelahi23/Corda-BNO-membership/nodebuilder"
	"github.com/aelahi23/Corda-BNO-membership/rpcserver"
)

var rpcAddr string

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Run every node of a network config in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		c, err := nodebuilder.TomlToConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("error loading config: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nb := &nodebuilder.NodeBuilder{Config: c}
		if err := nb.Start(ctx); err != nil {
			return fmt.Errorf("error starting network: %v", err)
		}
		for _, n := range nb.Nodes() {
			fmt.Printf("%s %v %s\n", n.Name(), n.Roles(), n.Party().Address().Hex())
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigs
			cancel()
		}()

		srv := rpcserver.NewServer(nb)
		err = srv.ListenAndServe(ctx, rpcAddr)
		cancel()
		if stopErr := nb.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(networkCmd)
	networkCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a network toml config")
	networkCmd.Flags().StringVar(&rpcAddr, "rpc", "127.0.0.1:8080", "address of the http api")
}
