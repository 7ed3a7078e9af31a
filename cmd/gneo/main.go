// gneo is the node entry point: it loads the protocol configuration, opens
// storage and runs the core until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gneo-network/gneo/crypto"
	"github.com/gneo-network/gneo/node"
	"github.com/gneo-network/gneo/params"
	"github.com/gneo-network/gneo/storage"
)

// Exit codes for startup gates.
const (
	exitOK            = 0
	exitBadConfig     = 1
	exitMarkerMismatch = 2
	exitBadStoragePath = 3
	exitMissingCredentials = 4
)

func main() {
	app := &cli.App{
		Name:  "gneo",
		Usage: "run a gneo node core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "protocol configuration file", Required: true},
			&cli.StringFlag{Name: "datadir", Usage: "chain data directory", Value: "./chain"},
			&cli.StringFlag{Name: "db", Usage: "storage backend (leveldb, boltdb, memory)", Value: node.BackendLevelDB},
			&cli.StringFlag{Name: "consensus-key", Usage: "hex-encoded consensus private key"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		code, ok := err.(cli.ExitCoder)
		if ok {
			os.Exit(code.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitBadConfig)
	}
}

func run(c *cli.Context) error {
	logCfg := zap.NewProductionConfig()
	if c.Bool("debug") {
		logCfg = zap.NewDevelopmentConfig()
	}
	log, err := logCfg.Build()
	if err != nil {
		return cli.Exit(err, exitBadConfig)
	}
	defer log.Sync()

	cfg, err := params.Load(c.String("config"))
	if err != nil {
		log.Error("configuration rejected", zap.Error(err))
		return cli.Exit(err, exitBadConfig)
	}

	opts := node.Options{
		Config:  cfg,
		DataDir: c.String("datadir"),
		Backend: c.String("db"),
		Logger:  log,
	}
	if keyHex := c.String("consensus-key"); keyHex != "" {
		raw, err := hex.DecodeString(keyHex)
		if err != nil {
			log.Error("consensus key rejected", zap.Error(err))
			return cli.Exit(err, exitMissingCredentials)
		}
		key, err := crypto.NewPrivateKeyFromBytes(raw)
		if err != nil {
			log.Error("consensus key rejected", zap.Error(err))
			return cli.Exit(err, exitMissingCredentials)
		}
		opts.ConsensusKey = key
	}

	n, err := node.New(opts)
	if err != nil {
		log.Error("startup refused", zap.Error(err))
		switch {
		case errors.Is(err, storage.ErrMarkerMismatch):
			return cli.Exit(err, exitMarkerMismatch)
		case errors.Is(err, node.ErrBadStoragePath):
			return cli.Exit(err, exitBadStoragePath)
		default:
			return cli.Exit(err, exitBadConfig)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := n.Start(ctx); err != nil {
		log.Error("node terminated", zap.Error(err))
		return cli.Exit(err, exitBadConfig)
	}
	return nil
}
