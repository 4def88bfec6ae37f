package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aelahi23/Corda-BNO-membership/config"
	"github.com/aelahi23/Corda-BNO-membership/nodebuilder"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Work with configuration files",
}

var configCheckProtocol bool

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse a network config, or a protocol config with --protocol, and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		if configCheckProtocol {
			c, err := config.LoadFile(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("trusted BNO: %s\nwhitelist: %v\nnotary: %s\nmembership policy: %s\n",
				c.CurrentBNO(), c.WhitelistedBNOs(), c.NotaryName(), c.MembershipPolicy)
			return nil
		}

		c, err := nodebuilder.TomlToConfig(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("namespace %q, %d nodes\n", c.Namespace, len(c.Nodes))
		for _, nc := range c.Nodes {
			protocol := "shared"
			if nc.ProtocolConfigPath != "" {
				protocol = nc.ProtocolConfigPath
			}
			fmt.Printf("  %s %v protocol=%s\n", nc.Name, nc.Roles, protocol)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
	configCheckCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to the config file")
	configCheckCmd.Flags().BoolVar(&configCheckProtocol, "protocol", false, "the file is a protocol config (toml or yaml)")
}
