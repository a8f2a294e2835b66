package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fenixJK/netkit"
	"github.com/fenixJK/netkit/timeutil"
)

const (
	clients  = 4
	requests = 1000
	host     = "127.0.0.1"
	port     = 9000
)

// Fires framed echo requests at a running server (see cmd/) from several
// concurrent clients and reports the total elapsed time.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	watch := timeutil.NewStopwatch()

	eg := errgroup.Group{}
	for c := 0; c < clients; c++ {
		c := c
		eg.Go(func() error {
			client := netkit.NewClient(&logger)
			if err := client.Connect(host, port, 2*time.Second); err != nil {
				return err
			}
			defer client.Close()

			for i := 0; i < requests; i++ {
				msg := []byte(fmt.Sprintf("hello_%d_%d", c, i))
				if err := client.SendFrame(msg); err != nil {
					return err
				}

				resp, err := client.RecvFrame(2 * time.Second)
				if err != nil {
					return err
				}
				if string(resp) != string(msg) {
					return fmt.Errorf("echo mismatch: sent %q, got %q", msg, resp)
				}
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("echo run failed")
	}

	logger.Info().
		Dur("elapsed", watch.Elapsed()).
		Int("requests", clients*requests).
		Msg("finished")
}
