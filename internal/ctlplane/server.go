package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"sync"

	"grimm.is/hostnet/internal/applier"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/logging"
	"grimm.is/hostnet/internal/schema"
)

// Server is the privileged control plane RPC server
type Server struct {
	applier *applier.Applier
	logger  *logging.Logger

	rpc      *rpc.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewServer creates a new control plane server
func NewServer(a *applier.Applier, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.WithComponent("ctlplane")
	}
	s := &Server{
		applier: a,
		logger:  logger,
		rpc:     rpc.NewServer(),
	}
	// The receiver's exported methods all have the net/rpc shape, so
	// registration only fails on programming errors.
	if err := s.rpc.RegisterName("Server", s); err != nil {
		panic(fmt.Sprintf("failed to register RPC service: %v", err))
	}
	return s
}

// Start starts the RPC server on the Unix socket
func (s *Server) Start(socketPath string) error {
	s.mu.Lock()
	running := s.listener != nil
	s.mu.Unlock()
	if running {
		return errkind.Conflictf("control plane already running")
	}

	// Remove a stale socket from a previous run
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}

	// Only root may reconfigure the host.
	if err := os.Chmod(socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return s.StartWithListener(listener)
}

// StartWithListener starts the RPC server with an existing listener
func (s *Server) StartWithListener(listener net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errkind.Conflictf("control plane already listening on %s", s.listener.Addr())
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("control plane listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Error("accept failed", "error", err)
				}
				return
			}
			go s.ServeConn(conn)
		}
	}()
	return nil
}

// ServeConn serves a single client connection until it closes.
func (s *Server) ServeConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("RPC connection handler panicked", "panic", r)
		}
	}()
	s.rpc.ServeConn(conn)
}

// Stop closes the listener. Connections in flight finish on their own.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	s.wg.Wait()
	return err
}

// Status reports the daemon version and its backends.
func (s *Server) Status(args *Empty, reply *StatusReply) error {
	*reply = *statusOf(s.applier)
	return nil
}

// Apply applies a desired document.
func (s *Server) Apply(args *ApplyArgs, reply *ApplyReply) error {
	desired, err := decodeDocument(args.Desired)
	if err != nil {
		reply.Error = toRPCError(err)
		return nil
	}

	res, err := s.applier.Apply(context.Background(), desired, args.Options)
	if res != nil {
		reply.CheckpointID = res.CheckpointID
		reply.Changed = res.Changed
		reply.Interfaces = res.Interfaces
		reply.GlobalDNS = res.GlobalDNS
		reply.RolledBack = res.RolledBack
	}
	reply.Error = toRPCError(err)
	return nil
}

// Show returns the current state.
func (s *Server) Show(args *ShowArgs, reply *ShowReply) error {
	doc, err := s.applier.Show(context.Background(), args.Names...)
	if err != nil {
		reply.Error = toRPCError(err)
		return nil
	}
	data, err := doc.JSON()
	if err != nil {
		reply.Error = toRPCError(fmt.Errorf("failed to encode current state: %w", err))
		return nil
	}
	reply.Document = data
	return nil
}

// Commit keeps the changes of a pending checkpoint.
func (s *Server) Commit(args *CheckpointArgs, reply *CheckpointReply) error {
	reply.Error = toRPCError(s.applier.Commit(context.Background(), args.ID))
	return nil
}

// Rollback restores the state captured by a pending checkpoint.
func (s *Server) Rollback(args *CheckpointArgs, reply *CheckpointReply) error {
	reply.Error = toRPCError(s.applier.Rollback(context.Background(), args.ID))
	return nil
}

// GenerateConfig renders a desired document offline.
func (s *Server) GenerateConfig(args *GenerateConfigArgs, reply *GenerateConfigReply) error {
	desired, err := decodeDocument(args.Desired)
	if err != nil {
		reply.Error = toRPCError(err)
		return nil
	}
	configs, err := s.applier.GenerateConfig(desired)
	reply.Configs = configs
	reply.Error = toRPCError(err)
	return nil
}

// Diff previews what applying a desired document would change.
func (s *Server) Diff(args *DiffArgs, reply *DiffReply) error {
	desired, err := decodeDocument(args.Desired)
	if err != nil {
		reply.Error = toRPCError(err)
		return nil
	}
	diff, err := s.applier.Diff(context.Background(), desired)
	reply.Diff = diff
	reply.Error = toRPCError(err)
	return nil
}

// History lists recorded apply sessions.
func (s *Server) History(args *Empty, reply *HistoryReply) error {
	records, err := s.applier.History()
	if err != nil {
		reply.Error = toRPCError(err)
		return nil
	}
	for _, rec := range records {
		reply.Records = append(reply.Records, *rec)
	}
	return nil
}

func decodeDocument(data []byte) (*schema.Document, error) {
	doc, err := schema.Parse(data, schema.FormatJSON)
	if err != nil {
		return nil, errkind.Wrap(errkind.Value, err, "failed to decode desired state")
	}
	return doc, nil
}
