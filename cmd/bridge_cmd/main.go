package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/verity-protocol/bridge-go/cmd"
	"github.com/verity-protocol/bridge-go/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "BRIDGE_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Bridge server configuration file = %s\n", _config_file)

	if !cmd.FileExists(_config_file) {
		fmt.Printf("Bridge server configuration file not found: %s\n", _config_file)
		return
	}

	if !initializeViper(_config_file) {
		return
	}

	bsc := PrepareBridgeServerConfig()
	if bsc == nil {
		fmt.Printf("Error loading bridge server configuration\n")
		return
	}

	fmt.Println("Starting bridge server... press Ctrl+C to kill the server")
	cmd.StartBridgeServerAndWait(bsc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareBridgeServerConfig reads configuration variables and returns a
// BridgeServerConfig.
func PrepareBridgeServerConfig() *cmd.BridgeServerConfig {
	required := viper.GetInt("REQUIRED_SIGNATURES")
	if required <= 0 {
		fmt.Printf("REQUIRED_SIGNATURES must be a positive integer\n")
		return nil
	}

	var privKeys []string
	if raw := viper.GetString("VALIDATOR_PRIV_KEYS"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				privKeys = append(privKeys, k)
			}
		}
	}

	return &cmd.BridgeServerConfig{
		// state side
		DbFilePath:          viper.GetString("DB_FILE_PATH"),
		ValidatorDbFilePath: viper.GetString("VALIDATOR_DB_FILE_PATH"),
		// quorum side
		RequiredSignatures: required,
		ValidatorPrivKeys:  privKeys,
		// xrpl side
		XrplRpcUrl:           viper.GetString("XRPL_RPC_URL"),
		XrplCustodialAddress: viper.GetString("XRPL_CUSTODIAL_ADDRESS"),
		// solana side
		SolanaRpcUrl:      viper.GetString("SOLANA_RPC_URL"),
		SolanaWrappedMint: viper.GetString("SOLANA_WRAPPED_MINT"),
		SolanaBurnTarget:  viper.GetString("SOLANA_BURN_TARGET"),
	}
}
