// The clawadmin binary holds operator utilities: generating the master
// sealing secret and splitting it into Shamir shares for distribution.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tiero/claw-cash-sub001/common"
	"github.com/tiero/claw-cash-sub001/custody"
)

func main() {
	app := &cli.App{
		Name:    "clawadmin",
		Usage:   "Operator utilities for claw-cash custody",
		Version: common.Version,
		Commands: []*cli.Command{
			{
				Name:   "gen-secret",
				Usage:  "generate a random 32-byte master sealing secret",
				Action: runGenSecret,
			},
			{
				Name:  "split-secret",
				Usage: "split a master sealing secret into Shamir shares",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "secret",
						Required: true,
						Usage:    "hex-encoded master secret to split",
					},
					&cli.IntFlag{
						Name:  "shares",
						Value: 5,
						Usage: "number of shares to produce",
					},
					&cli.IntFlag{
						Name:  "threshold",
						Value: 3,
						Usage: "number of shares required to recover the secret",
					},
				},
				Action: runSplitSecret,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runGenSecret(cCtx *cli.Context) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(secret))
	return nil
}

func runSplitSecret(cCtx *cli.Context) error {
	secret, err := hex.DecodeString(cCtx.String("secret"))
	if err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}

	shares, err := custody.SplitMasterSecret(secret, cCtx.Int("threshold"), cCtx.Int("shares"))
	if err != nil {
		return err
	}

	fmt.Printf("# %d shares, %d required to recover\n", len(shares), cCtx.Int("threshold"))
	for i, share := range shares {
		fmt.Printf("share %d: %s\n", i+1, hex.EncodeToString(share))
	}
	return nil
}
