// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollupapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/util/stopwaiter"
)

// NewServer registers the rollup API on a fresh RPC server.
func NewServer(reader rollup.Reader) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, NewRollupAPI(reader)); err != nil {
		return nil, fmt.Errorf("error registering %v api: %w", Namespace, err)
	}
	return server, nil
}

// HTTPServer serves the rollup API over HTTP until stopped.
type HTTPServer struct {
	stopwaiter.StopWaiter
	rpcServer  *rpc.Server
	httpServer *http.Server
	listener   net.Listener
}

func NewHTTPServer(addr string, reader rollup.Reader) (*HTTPServer, error) {
	rpcServer, err := NewServer(reader)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		rpcServer: rpcServer,
		httpServer: &http.Server{
			Handler:           rpcServer,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

func (s *HTTPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *HTTPServer) Start(ctx context.Context) {
	s.StopWaiter.Start(ctx, s)
	s.LaunchThread(func(context.Context) {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Rollup RPC server stopped", "err", err)
		}
	})
	s.LaunchThread(func(ctx context.Context) {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Error shutting down rollup RPC server", "err", err)
		}
		s.rpcServer.Stop()
	})
	log.Info("Serving rollup RPC", "addr", s.Addr())
}
