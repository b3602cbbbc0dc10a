//go:build linux

// Command swarmnode runs a storage node: it accepts client
// connections, authenticates them (4.F), and serves Put/Get/GetAll
// requests multiplexed over each connection.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/swarmstore/swarmstore/internal/config"
	"github.com/swarmstore/swarmstore/internal/connection"
	"github.com/swarmstore/swarmstore/internal/credentials"
	"github.com/swarmstore/swarmstore/internal/handlers"
	"github.com/swarmstore/swarmstore/internal/handshake"
	"github.com/swarmstore/swarmstore/internal/logging"
	"github.com/swarmstore/swarmstore/internal/metrics"
	"github.com/swarmstore/swarmstore/internal/reactor"
	"github.com/swarmstore/swarmstore/internal/request"
	"github.com/swarmstore/swarmstore/internal/yieldqueue"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "swarmnode",
		Short: "Runs a swarmstore storage node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "swarmnode.yaml", "path to the node's YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := logging.INFO
	log, err := logging.New("swarmnode", level, cfg.Logging.OutputFile)
	if err != nil {
		return err
	}

	credsWatcher, err := credentials.NewWatcher(cfg.Security.CredentialsFile, func(err error) {
		log.Error("credentials reload", logging.Fields{"error": err.Error()})
	})
	if err != nil {
		return fmt.Errorf("swarmnode: load credentials: %w", err)
	}
	defer credsWatcher.Close()

	recorder := metrics.New()
	if cfg.Observability.MetricsAddr != "" {
		go func() {
			log.Info("serving metrics", logging.Fields{"addr": cfg.Observability.MetricsAddr})
			http.ListenAndServe(cfg.Observability.MetricsAddr, recorder.Handler()) //nolint:errcheck
		}()
	}

	store := handlers.NewStore()
	efd, err := reactor.NewEventFD()
	if err != nil {
		return err
	}
	yq := yieldqueue.New(efd)

	tcpAddr, err := net.ResolveTCPAddr("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("swarmnode: resolve %s: %w", cfg.Server.ListenAddr, err)
	}
	listenFD, err := connection.ListenTCP(tcpAddr)
	if err != nil {
		return err
	}
	log.Info("listening", logging.Fields{"addr": cfg.Server.ListenAddr})

	for {
		fd, peer, err := connection.AcceptTCP(listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			log.Error("accept failed", logging.Fields{"error": err.Error()})
			continue
		}
		go serveConnection(fd, peer, cfg, credsWatcher, store, yq, recorder, log)
	}
}

func serveConnection(fd int, peer *net.TCPAddr, cfg *config.Config, creds *credentials.Watcher, store *handlers.Store, yq *yieldqueue.Queue, recorder *metrics.Recorder, log *logging.Logger) {
	netConn, err := netConnFromFD(fd)
	if err != nil {
		log.Error("wrap accepted fd", logging.Fields{"error": err.Error()})
		unix.Close(fd) //nolint:errcheck
		return
	}

	if err := netConn.SetDeadline(time.Now().Add(cfg.Server.HandshakeTimeout)); err != nil {
		log.Error("set handshake deadline", logging.Fields{"error": err.Error()})
		netConn.Close()
		return
	}
	name, err := handshake.ServerAuthenticate(netConn, creds.Snapshot(), time.Now())
	if err != nil {
		log.Warn("handshake rejected", logging.Fields{"peer": peer.String(), "error": err.Error()})
		netConn.Close()
		return
	}
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		log.Error("clear handshake deadline", logging.Fields{"error": err.Error()})
		netConn.Close()
		return
	}
	log.Info("client authenticated", logging.Fields{"peer": peer.String(), "client": name})

	driverFD, err := detachFD(netConn)
	if err != nil {
		log.Error("detach fd after handshake", logging.Fields{"error": err.Error()})
		netConn.Close()
		return
	}

	conn, err := connection.New(driverFD, cfg.Server.MaxBodyLength, recorder)
	if err != nil {
		log.Error("connection.New", logging.Fields{"error": err.Error()})
		unix.Close(driverFD) //nolint:errcheck
		return
	}
	conn.Start()

	// One request per RequestId the client opens; a production node
	// would learn RequestIds from an initial open message, but that
	// framing is left to the client protocol layer above this package.
	const demoRequestID = 1
	req := request.New(conn, demoRequestID, yq)
	if err := handlers.Dispatch(req, store); err != nil {
		log.Warn("request failed", logging.Fields{"client": name, "error": err.Error()})
	}
	req.Close()
}
