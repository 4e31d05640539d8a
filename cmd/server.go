package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	logger "github.com/sirupsen/logrus"

	"github.com/verity-protocol/bridge-go/agreement"
	"github.com/verity-protocol/bridge-go/bridgestore"
	"github.com/verity-protocol/bridge-go/events"
	"github.com/verity-protocol/bridge-go/monitor"
	"github.com/verity-protocol/bridge-go/orchestrator"
	"github.com/verity-protocol/bridge-go/relayer"
	"github.com/verity-protocol/bridge-go/solman"
	"github.com/verity-protocol/bridge-go/validator"
	"github.com/verity-protocol/bridge-go/xrplman"
)

// FileExists checks if a file exists and is readable.
func FileExists(filePath string) bool {
	file, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// BridgeServerConfig carries everything needed to assemble one bridge node.
type BridgeServerConfig struct {
	// state side
	DbFilePath          string
	ValidatorDbFilePath string

	// quorum side
	RequiredSignatures int
	// hex-encoded secp256k1 keys of the locally hosted validators; a
	// production deployment runs each validator as its own process and
	// leaves this empty
	ValidatorPrivKeys []string

	// xrpl side
	XrplRpcUrl           string
	XrplCustodialAddress string

	// solana side
	SolanaRpcUrl      string
	SolanaWrappedMint string
	SolanaBurnTarget  string
}

// BridgeServer owns every long-running component of one node.
type BridgeServer struct {
	Store        *bridgestore.Store
	Registry     *validator.Registry
	Bus          *events.Bus
	Orchestrator *orchestrator.Orchestrator
	Relayer      *relayer.Relayer
	Monitor      *monitor.Monitor
	Validators   []*validator.Node
}

// NewBridgeServer wires the components together and launches their loops on
// the wait group. Components stop when ctx is cancelled.
func NewBridgeServer(bsc *BridgeServerConfig, ctx context.Context, wg *sync.WaitGroup) (*BridgeServer, error) {
	store, err := bridgestore.New(bsc.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer store: %w", err)
	}

	registry, err := validator.NewRegistry(bsc.ValidatorDbFilePath, bsc.RequiredSignatures)
	if err != nil {
		return nil, fmt.Errorf("failed to open validator registry: %w", err)
	}

	xrplClient := xrplman.NewClient(bsc.XrplRpcUrl, bsc.XrplCustodialAddress)
	solClient, err := solman.NewClient(bsc.SolanaRpcUrl, bsc.SolanaWrappedMint)
	if err != nil {
		return nil, fmt.Errorf("failed to create solana client: %w", err)
	}
	clients := map[agreement.Chain]agreement.ChainClient{
		agreement.ChainXRPL:   xrplClient,
		agreement.ChainSolana: solClient,
	}

	bus := events.NewBus()

	o := orchestrator.New(store, registry, bus, orchestrator.DefaultConfig())

	relayerCfg := relayer.DefaultConfig()
	relayerCfg.RequiredSignatures = bsc.RequiredSignatures
	relayerCfg.AssetID[agreement.ChainSolana] = bsc.SolanaWrappedMint
	relayerCfg.EscrowAddress[agreement.ChainXRPL] = bsc.XrplCustodialAddress
	r := relayer.New(store, clients, bus, relayerCfg)

	m := monitor.New(store, registry, clients, bus, monitor.DefaultConfig())

	server := &BridgeServer{
		Store:        store,
		Registry:     registry,
		Bus:          bus,
		Orchestrator: o,
		Relayer:      r,
		Monitor:      m,
	}

	nodeCfg := validator.DefaultNodeConfig()
	nodeCfg.CustodialAddress[agreement.ChainXRPL] = bsc.XrplCustodialAddress
	nodeCfg.BurnTarget[agreement.ChainSolana] = bsc.SolanaBurnTarget
	for i, privHex := range bsc.ValidatorPrivKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bad validator private key #%d: %w", i, err)
		}
		node := validator.NewNode(
			fmt.Sprintf("validator-%d", i), key, store, registry, clients, nodeCfg,
		)
		server.Validators = append(server.Validators, node)
	}

	launch := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && err != context.Canceled {
				logger.Errorf("%s loop exited: err=%v", name, err)
			}
		}()
	}

	launch("orchestrator", o.Loop)
	launch("relayer", r.Loop)
	launch("monitor", m.Loop)
	for _, node := range server.Validators {
		launch("validator "+node.ID(), node.Start)
	}

	return server, nil
}

// StartBridgeServerAndWait runs the node until SIGINT/SIGTERM.
func StartBridgeServerAndWait(bsc *BridgeServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	server, err := NewBridgeServer(bsc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create bridge server: %v", err)
		return
	}

	wg.Wait()

	if err := server.Store.Close(); err != nil {
		logger.Errorf("failed to close transfer store: err=%v", err)
	}
	if err := server.Registry.Close(); err != nil {
		logger.Errorf("failed to close validator registry: err=%v", err)
	}
}
