// Command webdavd runs the reactor-driven WebDAV server: one Acceptor
// goroutine handing accepted connections to a fixed Worker Group, each
// Worker running the HTTP Engine against a webdav.Handler. Grounded on
// webitel-im-delivery-service/cmd/cmd.go's cli.App + signal-driven
// shutdown shape.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/webdavd/webdavd/clock"
	"github.com/webdavd/webdavd/httpserver"
	"github.com/webdavd/webdavd/internal/logging"
	"github.com/webdavd/webdavd/offload"
	"github.com/webdavd/webdavd/reactor"
	"github.com/webdavd/webdavd/webdav"
)

func main() {
	app := &cli.App{
		Name:  "webdavd",
		Usage: "a reactor-driven WebDAV file server",
		Commands: []*cli.Command{
			serveCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("webdavd exited with error", "err", err)
		os.Exit(1)
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on",
				Value: ":8080",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "directory to serve",
				Value: ".",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "number of reactor workers",
				Value: runtime.NumCPU(),
			},
			&cli.IntFlag{
				Name:  "offload-pool-size",
				Usage: "max concurrent offloaded jobs",
				Value: 64,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	httpCfg, err := httpserver.LoadConfig()
	if err != nil {
		return fmt.Errorf("load http config: %w", err)
	}
	davCfg, err := webdav.LoadConfig()
	if err != nil {
		return fmt.Errorf("load webdav config: %w", err)
	}
	store := webdav.NewFileStore(c.String("root"))

	wtp, err := offload.New(c.Int("offload-pool-size"))
	if err != nil {
		return fmt.Errorf("create offload pool: %w", err)
	}
	defer wtp.Release()

	group, err := reactor.NewGroup(c.Int("workers"), func(workerID int) reactor.Scratch {
		return httpserver.NewScratch(httpCfg)
	})
	if err != nil {
		return fmt.Errorf("create worker group: %w", err)
	}

	factory := func(fd int, remoteAddr net.Addr, deadline int64) (reactor.Deadliner, error) {
		handler := webdav.NewHandler(davCfg, store, webdav.WithOffload(wtp))
		conn := httpserver.NewConn(fd, deadline+httpCfg.FirstRequestTimeout, handler)
		return conn, nil
	}

	acceptor, err := reactor.NewAcceptor(c.String("listen"), group, factory, clock.Now)
	if err != nil {
		return fmt.Errorf("create acceptor: %w", err)
	}

	serverLog := logging.NewTag("cmd.webdavd")
	serverLog.Info("listening", "addr", acceptor.Addr().String(), "workers", c.Int("workers"))

	go acceptor.Run()
	go group.Run()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	serverLog.Info("shutting down")
	_ = acceptor.Close()
	group.Stop()
	return nil
}
