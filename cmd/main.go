package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/fenixJK/netkit"
	"github.com/fenixJK/netkit/config"
	"github.com/fenixJK/netkit/server"
)

// Echo server wired from layered configuration. Settings come from built-in
// defaults, optionally overridden by a YAML file named in NETKIT_CONFIG.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	cfg := config.New()
	cfg.AddSource(config.StaticSource{
		"server": {
			"port":    9000,
			"backlog": 16,
			"workers": 4,
		},
	})

	if path := os.Getenv("NETKIT_CONFIG"); path != "" {
		src, err := config.NewFileSource(path)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		cfg.AddSource(src)
	}

	port, _ := config.Get[int](cfg, "server", "port")
	backlog, _ := config.Get[int](cfg, "server", "backlog")
	workers, _ := config.Get[int](cfg, "server", "workers")

	srv, err := server.NewServer(server.HandlerFuncs{
		OnMessage: func(id uint64, stream *netkit.DuplexStream, data []byte) {
			if _, err := stream.SendAll(data); err != nil {
				logger.Warn().Err(err).Uint64("client", id).Msg("echo failed")
			}
		},
	}, &server.Config{Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("create server")
	}

	if err := srv.Bind(port); err != nil {
		logger.Fatal().Err(err).Int("port", port).Msg("bind")
	}
	if err := srv.Listen(backlog); err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
	if err := srv.Start(workers); err != nil {
		logger.Fatal().Err(err).Msg("start")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	srv.Stop()
}
