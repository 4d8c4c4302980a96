package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/vultisig/relay/coordinator"
)

var log = logging.Logger("relay-test")

func main() {
	app := cli.App{
		Name:  "relay-test",
		Usage: "relay-test is a tool for exercising the session relay without a signing engine.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "relay server address",
				Value:   "http://127.0.0.1:8080",
			},
			&cli.StringFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "something to uniquely identify local party",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "parties",
				Aliases:  []string{"p"},
				Usage:    "comma separated list of party keys, need to have all the keys of the committee",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "current communication session",
				Value: uuid.NewString(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "exchange",
				Usage:  "join a session, wait for the committee and trade a test payload with every party",
				Action: exchangeCmd,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "leader",
						Usage: "mark the ceremony as started once everyone joined",
					},
				},
			},
			{
				Name:   "end",
				Usage:  "delete a session from the relay",
				Action: endCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// printHandler just echoes whatever the relay delivers; in the real app
// this is the signing engine's ApplyData.
type printHandler struct {
	key string
}

func (p *printHandler) ApplyData(body string) error {
	fmt.Printf("%s received: %s\n", p.key, body)
	return nil
}

func exchangeCmd(c *cli.Context) error {
	server := c.String("server")
	session := c.String("session")
	key := c.String("key")
	parties := c.StringSlice("parties")

	ctx, cancel := context.WithTimeout(c.Context, time.Minute)
	defer cancel()

	if err := coordinator.RegisterSession(server, session, key); err != nil {
		return fmt.Errorf("fail to register session: %w", err)
	}
	log.Infof("registered %s in session %s", key, session)
	if err := coordinator.WaitAllParties(ctx, server, session, parties); err != nil {
		return fmt.Errorf("fail to wait all parties: %w", err)
	}

	if c.Bool("leader") {
		if err := coordinator.StartCeremony(server, session, parties); err != nil {
			return fmt.Errorf("fail to start ceremony: %w", err)
		}
	}
	committee, err := coordinator.WaitCeremonyStart(ctx, server, session)
	if err != nil {
		return fmt.Errorf("fail to wait ceremony start: %w", err)
	}
	log.Infof("ceremony started with committee %v", committee)

	endCh := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go coordinator.DownloadMessages(server, session, key, "", &printHandler{key: key}, endCh, wg)

	messenger := &coordinator.Messenger{Server: server, SessionID: session}
	for _, to := range committee {
		if to == key {
			continue
		}
		payload := fmt.Sprintf("hello %s, this is %s (%s)", to, key, uuid.NewString())
		if err := messenger.Send(key, to, payload); err != nil {
			return fmt.Errorf("fail to send message to %s: %w", to, err)
		}
	}

	// give the committee time to drain the mailbox
	time.Sleep(5 * time.Second)
	close(endCh)
	wg.Wait()

	if c.Bool("leader") {
		if err := coordinator.EndSession(server, session); err != nil {
			log.Errorf("fail to end session: %s", err)
		}
	}
	return nil
}

func endCmd(c *cli.Context) error {
	return coordinator.EndSession(c.String("server"), c.String("session"))
}
