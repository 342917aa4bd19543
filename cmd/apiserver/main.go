// The apiserver binary runs the public custody API tier. It terminates
// client sessions, mints signing tickets and forwards signing requests to
// the enclave daemon; it never holds key material.
package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tiero/claw-cash-sub001/auth"
	"github.com/tiero/claw-cash-sub001/cmd/flags"
	"github.com/tiero/claw-cash-sub001/common"
	"github.com/tiero/claw-cash-sub001/enclave"
	"github.com/tiero/claw-cash-sub001/httpserver"
	"github.com/tiero/claw-cash-sub001/ratelimit"
	"github.com/tiero/claw-cash-sub001/store"
	"github.com/tiero/claw-cash-sub001/ticket"
)

var appFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.DBPathFlag,
	flags.TicketSecretFlag,
	flags.EnclaveSecretFlag,
	&cli.StringFlag{
		Name:  "base-url",
		Value: "http://127.0.0.1:8080",
		Usage: "public base URL used in challenge confirmation links",
	},
	&cli.StringFlag{
		Name:     "session-secret",
		Required: true,
		Usage:    "session signing secret, at least 32 bytes",
		EnvVars:  []string{"CLAW_SESSION_SECRET"},
	},
	&cli.StringFlag{
		Name:  "enclave-url",
		Value: "http://127.0.0.1:8081",
		Usage: "base URL of the enclave daemon's internal API",
	},
	&cli.DurationFlag{
		Name:  "challenge-ttl",
		Value: 300 * time.Second,
		Usage: "challenge lifetime",
	},
	&cli.DurationFlag{
		Name:  "session-ttl",
		Value: 3600 * time.Second,
		Usage: "session lifetime",
	},
	&cli.DurationFlag{
		Name:  "ticket-ttl",
		Value: 90 * time.Second,
		Usage: "ticket lifetime",
	},
	&cli.StringFlag{
		Name:  "rate-limiter",
		Value: ratelimit.MemoryBackend,
		Usage: "rate limiter backend: 'memory' (per-process sliding window) or 'store' (fixed window shared through the database)",
	},
	&cli.IntFlag{
		Name:  "user-limit",
		Value: 20,
		Usage: "authenticated actions allowed per user per window",
	},
	&cli.DurationFlag{
		Name:  "user-window",
		Value: 60 * time.Second,
		Usage: "per-user rate limit window",
	},
	&cli.IntFlag{
		Name:  "sign-limit",
		Value: 10,
		Usage: "tickets allowed per identity per window",
	},
	&cli.DurationFlag{
		Name:  "sign-window",
		Value: 60 * time.Second,
		Usage: "per-identity signing rate limit window",
	},
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:    "apiserver",
		Usage:   "Serve the public claw-cash custody API",
		Version: common.Version,
		Flags:   appFlags,
		Action:  runAPIServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAPIServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	ticketSecret := []byte(cCtx.String(flags.TicketSecretFlag.Name))
	sessionSecret := []byte(cCtx.String("session-secret"))
	if len(sessionSecret) < 32 {
		return errors.New("session-secret must be at least 32 bytes")
	}

	db, err := store.New(cCtx.String(flags.DBPathFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to open database", "err", err)
		return err
	}
	defer db.Close()

	sessions, err := auth.NewSessionSigner(sessionSecret, cCtx.Duration("session-ttl"))
	if err != nil {
		return err
	}

	challenges := auth.NewChallengeManager(db, sessions, cCtx.String("base-url"), cCtx.Duration("challenge-ttl"), logger)
	challenges.Start()
	defer challenges.Stop()

	limiter, err := ratelimit.For(cCtx.String("rate-limiter"), db)
	if err != nil {
		return err
	}

	codec, err := ticket.NewCodec(ticketSecret)
	if err != nil {
		return err
	}

	issuer := ticket.NewIssuer(db, codec, limiter, ticket.IssuerConfig{
		TTL:        cCtx.Duration("ticket-ttl"),
		SignLimit:  cCtx.Int("sign-limit"),
		SignWindow: cCtx.Duration("sign-window"),
	}, logger)

	enclaveClient := enclave.NewClient(cCtx.String("enclave-url"), cCtx.String(flags.EnclaveSecretFlag.Name))

	handler := httpserver.NewPublicHandler(challenges, sessions, issuer, enclaveClient, db, limiter, httpserver.PublicHandlerConfig{
		UserLimit:  cCtx.Int("user-limit"),
		UserWindow: cCtx.Duration("user-window"),
	}, logger)

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
