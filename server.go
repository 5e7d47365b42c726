// Package iocatcher implements the server half of IO Catcher: a
// network-attached object cache for HPC compute nodes that stages
// objects in volatile or persistent memory and serves reads and writes
// to clients over a reliable, RDMA-equivalent connection (§4.6).
package iocatcher

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/config"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/conn"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/constants"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/container"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/ctrl"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/interfaces"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/logging"
	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/membackend"
)

// Server wires every other component (§4.6): it owns the libfabric
// domain and connection (here, one io_uring instance plus one data-port
// TCP listener standing in for the RDM endpoint), runs the TCP auth
// handshake listener on port+1, owns the container, and exposes a poll
// loop plus an optional statistics thread.
type Server struct {
	cfg *config.Config

	dataListener net.Listener
	authListener *ctrl.Listener
	registry     *ctrl.ClientRegistry
	objects      *container.Container
	ring         *conn.GiouringRing
	recvPool     *conn.ReceiveBufferPool
	connection   *conn.Connection
	stats        *ServerStats
	observer     Observer
	logger       *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server from cfg, a storage backend (§4.1/§9) and a
// memory backend (§4.2). It does not start listening; call Serve.
func NewServer(cfg *config.Config, storage interfaces.StorageBackend, memBackend membackend.Backend) (*Server, error) {
	registry := ctrl.NewClientRegistry()
	objects := container.NewContainer(storage, memBackend, constants.DefaultAlignment)

	ring, err := conn.NewGiouringRing(uint32(constants.DefaultReceiveBufferCount) * 2)
	if err != nil {
		return nil, fmt.Errorf("iocatcher: create completion queue: %w", err)
	}
	recvPool := conn.NewReceiveBufferPool(constants.DefaultReceiveBufferCount, constants.DefaultReceiveBufferSize)

	stats := NewServerStats()
	observer := Observer(NewStatsObserver(stats))

	logger := logging.Default()
	connection := conn.NewConnection(ring, recvPool, registry, objects, observer, logger)
	conn.RegisterDefaultHooks(connection)

	dataAddr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port)
	dataListener, err := net.Listen("tcp", dataAddr)
	if err != nil {
		ring.Close()
		return nil, fmt.Errorf("iocatcher: listen data port %s: %w", dataAddr, err)
	}

	authAddr := fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port+constants.TCPAuthPortOffset)
	authListener, err := ctrl.NewListener(authAddr, registry, objects.ClientDisconnect, true)
	if err != nil {
		dataListener.Close()
		ring.Close()
		return nil, fmt.Errorf("iocatcher: listen auth port %s: %w", authAddr, err)
	}

	return &Server{
		cfg:          cfg,
		dataListener: dataListener,
		authListener: authListener,
		registry:     registry,
		objects:      objects,
		ring:         ring,
		recvPool:     recvPool,
		connection:   connection,
		stats:        stats,
		observer:     observer,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}, nil
}

// DataAddr returns the bound libfabric-equivalent data port address.
func (s *Server) DataAddr() net.Addr { return s.dataListener.Addr() }

// AuthAddr returns the bound TCP auth handshake port address.
func (s *Server) AuthAddr() net.Addr { return s.authListener.Addr() }

// Container exposes the server's object container, mainly for tests
// driving it without a client.
func (s *Server) Container() *container.Container { return s.objects }

// Stats returns the live statistics counters.
func (s *Server) Stats() *ServerStats { return s.stats }

// Serve runs the auth listener, the data-port accept loop and the main
// poll loop until ctx is cancelled or Stop is called. It blocks.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.authListener.Serve()
	}()

	s.wg.Add(1)
	go s.acceptLoop()

	if s.cfg.ActivePolling || s.cfg.MetricsListenAddr != "" {
		s.wg.Add(1)
		go s.statsLoop()
	}

	s.pollLoop(ctx)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.dataListener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Warn("iocatcher: data listener accept failed", "err", err)
				return
			}
		}
		go s.joinPeer(c)
	}
}

func (s *Server) joinPeer(raw net.Conn) {
	if _, err := s.connection.JoinServer(raw); err != nil {
		s.logger.Warn("iocatcher: join failed", "err", err)
		raw.Close()
	}
}

// pollLoop is the server's main thread: a tight, non-blocking
// connection.Poll(waitForMessage=false) loop that sleeps for
// constants.PollBackoffIdle after every pass, matching §4.6's
// single-threaded network loop.
func (s *Server) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.stopCh:
			return
		default:
		}
		if err := s.connection.Poll(false); err != nil {
			s.logger.Error("iocatcher: poll failed", "err", err)
		}
		time.Sleep(constants.PollBackoffIdle)
	}
}

// statsLoop periodically logs a statistics snapshot (§4.6 optional
// statistics thread).
func (s *Server) statsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(constants.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			snap := s.stats.Snapshot()
			s.logger.Info("iocatcher: stats",
				"clients", s.registry.Count(),
				"reads", snap.ReadOps,
				"writes", snap.WriteOps,
				"read_bytes", snap.ReadBytes,
				"write_bytes", snap.WriteBytes,
			)
		}
	}
}

// Stop tears down every listener and the completion queue. Safe to call
// more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.dataListener.Close()
		s.authListener.Close()
		s.ring.Close()
	})
	s.wg.Wait()
}

// BroadcastFatal sends FATAL_ERROR to every joined peer and, when
// cfg.AbortOnFatal is set, stops the server, for an unrecoverable storage or memory-backend failure (§4.3
// broadcastErrorMessage).
func (s *Server) BroadcastFatal(message string) {
	s.connection.BroadcastErrorMessage(message)
	if s.cfg.AbortOnFatal {
		s.Stop()
	}
}
