// The enclaved binary runs the enclave signing daemon. It owns the custody
// store and is the only process that ever unseals private key material. Its
// API is internal-only, authenticated by a shared secret, and must not be
// exposed to end clients.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tiero/claw-cash-sub001/backup"
	"github.com/tiero/claw-cash-sub001/cmd/flags"
	"github.com/tiero/claw-cash-sub001/common"
	"github.com/tiero/claw-cash-sub001/custody"
	"github.com/tiero/claw-cash-sub001/enclave"
	"github.com/tiero/claw-cash-sub001/httpserver"
	"github.com/tiero/claw-cash-sub001/interfaces"
	"github.com/tiero/claw-cash-sub001/notify"
	"github.com/tiero/claw-cash-sub001/store"
	"github.com/tiero/claw-cash-sub001/ticket"
)

var appFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  flags.ListenAddrFlag.Name,
		Value: "127.0.0.1:8081",
		Usage: "address to listen on for the internal API",
	},
	flags.DBPathFlag,
	flags.TicketSecretFlag,
	flags.EnclaveSecretFlag,
	&cli.StringFlag{
		Name:  "custody-uri",
		Value: "local://",
		Usage: "custody backend: local:// or awskms://<key-id>?region=<region>",
	},
	&cli.StringFlag{
		Name:    "master-secret",
		Usage:   "hex-encoded master sealing secret for the local custody backend, at least 32 bytes",
		EnvVars: []string{"CLAW_MASTER_SECRET"},
	},
	&cli.StringSliceFlag{
		Name:  "master-secret-share",
		Usage: "hex-encoded Shamir share of the master secret; pass the flag once per share (alternative to master-secret)",
	},
	&cli.StringFlag{
		Name:  "attestation",
		Value: "dummy",
		Usage: "attestation provider: 'dummy', 'dcap', or 'remote:<url>'",
	},
	&cli.StringFlag{
		Name:  "webhook-url",
		Usage: "endpoint for sign/destroy event notifications, empty disables",
	},
	&cli.StringFlag{
		Name:  "backup-uri",
		Usage: "backup backend location: file://, s3://, ipfs:// or vault://; empty disables export",
	},
	&cli.BoolFlag{
		Name:  "enable-export",
		Value: false,
		Usage: "enable the plaintext key export endpoint (off by default)",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:    "enclaved",
		Usage:   "Run the claw-cash enclave signing daemon",
		Version: common.Version,
		Flags:   appFlags,
		Action:  runEnclaved,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runEnclaved(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	masterSecret, err := resolveMasterSecret(cCtx)
	if err != nil {
		return err
	}

	provider, err := attestationProvider(cCtx.String("attestation"))
	if err != nil {
		return err
	}

	custodyStore, err := custody.NewFactory(logger, masterSecret, provider).StoreFor(cCtx.String("custody-uri"))
	if err != nil {
		logger.Error("Failed to create custody store", "err", err)
		return err
	}

	db, err := store.New(cCtx.String(flags.DBPathFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to open database", "err", err)
		return err
	}
	defer db.Close()

	codec, err := ticket.NewCodec([]byte(cCtx.String(flags.TicketSecretFlag.Name)))
	if err != nil {
		return err
	}

	var backupBackend interfaces.BackupBackend
	if uri := cCtx.String("backup-uri"); uri != "" {
		backupBackend, err = backup.NewFactory(logger).BackendFor(uri)
		if err != nil {
			logger.Error("Failed to create backup backend", "err", err)
			return err
		}
	}

	service := enclave.NewService(db, custodyStore, codec,
		notify.NewWebhookNotifier(cCtx.String("webhook-url"), logger),
		backupBackend,
		enclave.ServiceConfig{ExportEnabled: cCtx.Bool("enable-export")},
		logger)

	handler := httpserver.NewInternalHandler(service, cCtx.String(flags.EnclaveSecretFlag.Name), logger)

	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler.RegisterRoutes)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	srv.Shutdown()
	return nil
}

// resolveMasterSecret reads the local sealing secret either directly or by
// recombining Shamir shares, so deployments can avoid ever writing the whole
// secret to one place.
func resolveMasterSecret(cCtx *cli.Context) ([]byte, error) {
	shares := cCtx.StringSlice("master-secret-share")
	direct := cCtx.String("master-secret")

	switch {
	case len(shares) > 0 && direct != "":
		return nil, errors.New("master-secret and master-secret-share are mutually exclusive")
	case len(shares) > 0:
		raw := make([][]byte, 0, len(shares))
		for _, s := range shares {
			decoded, err := hex.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid master secret share: %w", err)
			}
			raw = append(raw, decoded)
		}
		return custody.RecoverMasterSecret(raw)
	case direct != "":
		secret, err := hex.DecodeString(direct)
		if err != nil {
			return nil, fmt.Errorf("invalid master-secret: %w", err)
		}
		return secret, nil
	default:
		// awskms:// deployments have no local master secret.
		return nil, nil
	}
}

func attestationProvider(kind string) (custody.AttestationProvider, error) {
	switch {
	case kind == "dummy":
		return custody.DummyAttestationProvider{}, nil
	case kind == "dcap":
		return custody.DCAPAttestationProvider{}, nil
	case strings.HasPrefix(kind, "remote:"):
		return &custody.RemoteAttestationProvider{Address: strings.TrimPrefix(kind, "remote:")}, nil
	default:
		return nil, fmt.Errorf("unsupported attestation provider: %s", kind)
	}
}
