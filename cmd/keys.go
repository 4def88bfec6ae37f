package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/aelahi23/Corda-BNO-membership/identity"
	"github.com/aelahi23/Corda-BNO-membership/storage"
	"github.com/aelahi23/Corda-BNO-membership/wallet"
)

var (
	walletPath       string
	walletPassphrase string
	walletSave       bool
)

// walletLocation is --wallet, or the default wallet when --save is given.
func walletLocation() string {
	if walletPath == "" && walletSave {
		return filepath.Join(configDir("default"), "wallet")
	}
	return walletPath
}

func openWallet() (*wallet.Wallet, error) {
	ds, err := storage.NewDefaultBadger(walletLocation())
	if err != nil {
		return nil, fmt.Errorf("error opening wallet: %v", err)
	}
	return wallet.NewEncryptedWallet(ds, walletPassphrase)
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage node keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate [name...]",
	Short: "Generate keys for named parties",
	Long: `Without --wallet the keys are printed as hex for use in a network config.
With --wallet they are stored in an encrypted wallet that the network command can share.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletLocation() == "" {
			for _, name := range args {
				kp, err := identity.GenerateKeyPair(identity.Name(name))
				if err != nil {
					return err
				}
				fmt.Printf("%s\n  address: %s\n  private key: %s\n", name, kp.Party().Address().Hex(), hexutil.Encode(crypto.FromECDSA(kp.PrivateKey())))
			}
			return nil
		}

		w, err := openWallet()
		if err != nil {
			return err
		}
		defer w.Close()
		for _, name := range args {
			kp, err := w.GenerateKey(identity.Name(name))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", name, kp.Party().Address().Hex())
		}
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the keys in a wallet",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletLocation() == "" {
			return fmt.Errorf("--wallet or --save is required")
		}
		w, err := openWallet()
		if err != nil {
			return err
		}
		defer w.Close()
		names, err := w.ListKeys()
		if err != nil {
			return err
		}
		for _, name := range names {
			kp, err := w.GetKey(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", name, kp.Party().Address().Hex())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd, keysListCmd)
	keysCmd.PersistentFlags().StringVarP(&walletPath, "wallet", "w", "", "path of a badger wallet")
	keysCmd.PersistentFlags().BoolVar(&walletSave, "save", false, "use the default wallet in the user config directory")
	keysCmd.PersistentFlags().StringVarP(&walletPassphrase, "passphrase", "p", "", "wallet passphrase")
}
