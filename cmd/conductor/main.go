// Conductor is the consensus core of the Chorus federation: it orders
// batches of federation events and maintains the VDF-backed day counter.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chorus-fed/conductor/common"
	"github.com/chorus-fed/conductor/ed25519"
	"github.com/chorus-fed/conductor/log"
	"github.com/chorus-fed/conductor/node"
	"github.com/chorus-fed/conductor/storage"
	"github.com/chorus-fed/conductor/telemetry"
	"github.com/chorus-fed/conductor/thresh"
	"github.com/chorus-fed/conductor/types"
	"github.com/chorus-fed/conductor/vdf"
)

var (
	flagDataDir  string
	flagSpec     string
	flagKeyFile  string
	flagLogLevel string
	flagMetrics  int
	flagAllowed  []string
)

func main() {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Chorus federation consensus validator",
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "INFO", "log verbosity (TRACE..CRIT)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a validator node",
		RunE:  runNode,
	}
	run.Flags().StringVar(&flagDataDir, "datadir", "./conductor_data", "database directory")
	run.Flags().StringVar(&flagSpec, "spec", "", "chain spec file (required)")
	run.Flags().StringVar(&flagKeyFile, "key", "", "validator key file (required)")
	run.Flags().IntVar(&flagMetrics, "metrics-port", 9090, "prometheus port")
	run.Flags().StringSliceVar(&flagAllowed, "allow-caller", nil, "authorized relay caller ids")
	root.AddCommand(run)

	keygen := &cobra.Command{
		Use:   "keygen [output]",
		Short: "Generate a validator keypair",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeygen,
	}
	root.AddCommand(keygen)

	spec := &cobra.Command{
		Use:   "spec [output]",
		Short: "Write a starter chain spec",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpec,
	}
	root.AddCommand(spec)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// keyFile is the on-disk key material produced by keygen.
type keyFile struct {
	Ed25519Seed string `json:"ed25519_seed"`
	ShareIndex  uint32 `json:"share_index"`
	ShareScalar string `json:"share_scalar"`
	GroupKey    string `json:"group_key"`
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	kf := keyFile{Ed25519Seed: common.Bytes2Hex(priv.Seed())}
	data, err := json.MarshalIndent(&kf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0o600); err != nil {
		return err
	}
	fmt.Printf("validator id: %s\n", types.ValidatorIdFromKey(pub).Hex())
	fmt.Printf("public key:   %s\n", common.Bytes2Hex(pub))
	return nil
}

func runSpec(cmd *cobra.Command, args []string) error {
	spec := types.ChainSpec{
		Name:        "chorus-local",
		GenesisSeed: string(vdf.GenesisSeed),
		Config:      types.TinyConfig(),
	}
	data, err := json.MarshalIndent(&spec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(args[0], data, 0o644)
}

func runNode(cmd *cobra.Command, args []string) error {
	log.InitLogger(flagLogLevel)
	if flagSpec == "" || flagKeyFile == "" {
		return fmt.Errorf("--spec and --key are required")
	}

	spec, err := types.LoadChainSpec(flagSpec)
	if err != nil {
		return err
	}
	vs, err := spec.ValidatorSet()
	if err != nil {
		return err
	}

	kf, err := loadKeyFile(flagKeyFile)
	if err != nil {
		return err
	}
	signKey := ed25519.NewKeyFromSeed(common.Hex2Bytes(kf.Ed25519Seed))
	share := thresh.NewSecretShare(kf.ShareIndex, common.Hex2Bytes(kf.ShareScalar))
	var groupKey thresh.GroupPublicKey
	if err := groupKey.SetBytes(common.Hex2Bytes(kf.GroupKey)); err != nil {
		return fmt.Errorf("invalid group key in key file: %w", err)
	}
	keys := thresh.NewKeyContext(share, groupKey, nil)

	ps, err := storage.NewPersistenceStore(flagDataDir)
	if err != nil {
		return err
	}
	defer ps.Close()

	metrics := telemetry.NewMetrics()
	n, err := node.NewNode(node.Options{
		Config:     spec.Config,
		Genesis:    spec.GenesisSeedBytes(),
		Validators: vs,
		SignKey:    signKey,
		Keys:       keys,
		Store:      storage.NewStore(ps),
		Metrics:    metrics,
	}, node.NewStaticAuthenticator(flagAllowed...))
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(flagMetrics); err != nil {
			log.Warn(log.NodeMonitoring, "metrics server stopped", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go n.RunDayLoop(ctx)

	log.Info(log.NodeMonitoring, "validator running",
		"id", n.LocalId().Str(), "validators", vs.Len(), "day", n.CurrentDay())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	n.Shutdown()
	return nil
}

func loadKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, err
	}
	return &kf, nil
}
