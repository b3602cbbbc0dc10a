//go:build linux

// Command swarmclient is an illustrative CLI driving Put/Get/GetAll
// against one swarmstore node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swarmstore/swarmstore/internal/config"
	"github.com/swarmstore/swarmstore/internal/credentials"
	"github.com/swarmstore/swarmstore/internal/handlers"
	"github.com/swarmstore/swarmstore/internal/reactor"
	"github.com/swarmstore/swarmstore/internal/registry"
	"github.com/swarmstore/swarmstore/internal/request"
	"github.com/swarmstore/swarmstore/internal/wire"
	"github.com/swarmstore/swarmstore/internal/yieldqueue"
)

var configPath string

func main() {
	root := &cobra.Command{Use: "swarmclient", Short: "Drives Put/Get/GetAll against a swarmstore node"}
	root.PersistentFlags().StringVar(&configPath, "config", "swarmclient.yaml", "path to the client's YAML config file")

	root.AddCommand(
		putCmd(),
		getCmd(),
		getAllCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "put KEY VALUE",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, cleanup, err := openRequest()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := req.Send(handlers.OpVerb, wire.NewBodyWriter().PutUint8(handlers.VerbPut).Bytes()); err != nil {
				return err
			}
			payload := wire.NewBodyWriter().PutArray([]byte(args[0])).PutArray([]byte(args[1])).Bytes()
			if err := req.Send(handlers.OpPut, payload); err != nil {
				return err
			}
			_, err = req.Receive(handlers.OpPutOK)
			if err == nil {
				fmt.Println("ok")
			}
			return err
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "get KEY",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, cleanup, err := openRequest()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := req.Send(handlers.OpVerb, wire.NewBodyWriter().PutUint8(handlers.VerbGet).Bytes()); err != nil {
				return err
			}
			if err := req.Send(handlers.OpGet, wire.NewBodyWriter().PutArray([]byte(args[0])).Bytes()); err != nil {
				return err
			}
			body, err := req.Receive(handlers.OpGetReply)
			if err != nil {
				return err
			}
			r := wire.NewBodyReader(body)
			found, _ := r.Uint8()
			if found == 0 {
				fmt.Println("(not found)")
				return nil
			}
			value, err := r.Array()
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func getAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:  "getall",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, cleanup, err := openRequest()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := req.Send(handlers.OpVerb, wire.NewBodyWriter().PutUint8(handlers.VerbGetAll).Bytes()); err != nil {
				return err
			}
			if err := req.Send(handlers.OpGetAll, nil); err != nil {
				return err
			}

			// A Receive waiter for OpGetAllRow must stay continuously
			// registered while rows are still arriving, or a row
			// delivered with nobody waiting is silently dropped, so rows
			// are drained by a background loop racing the single
			// OpGetAllEnd waiter rather than alternating Receive calls.
			rows := make(chan []byte)
			rowErr := make(chan error, 1)
			go func() {
				for {
					body, err := req.Receive(handlers.OpGetAllRow)
					if err != nil {
						rowErr <- err
						return
					}
					rows <- body
				}
			}()
			end := make(chan error, 1)
			go func() {
				_, err := req.Receive(handlers.OpGetAllEnd)
				end <- err
			}()

			for {
				select {
				case body := <-rows:
					r := wire.NewBodyReader(body)
					key, _ := r.Array()
					value, _ := r.Array()
					fmt.Printf("%s=%s\n", key, value)
				case err := <-end:
					return err
				case err := <-rowErr:
					return err
				}
			}
		},
	}
}

func openRequest() (*request.RequestOnConn, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	keyMap, err := credentials.LoadFile(cfg.Security.KeyFile)
	if err != nil {
		return nil, nil, err
	}
	key, ok := keyMap[cfg.Security.ClientName]
	if !ok {
		return nil, nil, fmt.Errorf("swarmclient: no key for client %q in %s", cfg.Security.ClientName, cfg.Security.KeyFile)
	}

	nodes := registry.NewNodeSet()
	nodes.Add("default", cfg.Server.DialAddr)
	pool := registry.NewConnPool(nodes, cfg.Security.ClientName, key, cfg.Server.MaxBodyLength, nil)

	conn, err := pool.Get("default")
	if err != nil {
		return nil, nil, err
	}

	efd, err := reactor.NewEventFD()
	if err != nil {
		return nil, nil, err
	}
	yq := yieldqueue.New(efd)

	const requestID = 1
	req := request.New(conn, requestID, yq)
	return req, func() { req.Close(); conn.Close(nil) }, nil
}
