package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/kilianp07/seta/core/logger"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/ring"
)

// service adapts a ring.Handler to the net/rpc method shape.
type service struct {
	h ring.Handler
}

func (s *service) AnnounceSelf(args AnnounceArgs, reply *PositionReply) error {
	pos, err := s.h.HandleAnnounceSelf(context.Background(), args.Announcement)
	reply.Position = pos
	return err
}

func (s *service) AnnounceDistrictChange(args AnnounceArgs, ack *Ack) error {
	ack.OK = true
	return s.h.HandleDistrictChange(context.Background(), args.Announcement)
}

func (s *service) AnnounceDeparture(args DepartureArgs, ack *Ack) error {
	ack.OK = true
	return s.h.HandleDeparture(context.Background(), args.TaxiID)
}

func (s *service) ForwardElection(args ForwardArgs, reply *BoolReply) error {
	retry, err := s.h.HandleForwardElection(context.Background(), args.Token)
	reply.Value = retry
	return err
}

func (s *service) AnnounceElected(args ElectedArgs, ack *Ack) error {
	ack.OK = true
	return s.h.HandleElected(context.Background(), args.RideID, args.Winner)
}

func (s *service) RequestRechargeApproval(args ApprovalArgs, reply *ApprovalReply) error {
	ok, hold, err := s.h.HandleRechargeApproval(context.Background(), args.Requester, args.Timestamp)
	reply.Approved = ok
	reply.Hold = hold
	return err
}

func (s *service) AnnounceRechargeFree(args FreeArgs, ack *Ack) error {
	ack.OK = true
	return s.h.HandleRechargeFree(context.Background(), args.From, args.Hold)
}

// Server exposes a ring.Handler on a TCP address.
type Server struct {
	addr string
	log  logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

var _ ring.Server = (*Server)(nil)

// NewServer returns a server listening on addr once Serve is called.
func NewServer(addr string, log logger.Logger) *Server {
	return &Server{addr: addr, log: log, conns: make(map[net.Conn]struct{})}
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve binds the address and accepts connections in the background.
func (s *Server) Serve(h ring.Handler) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName(serviceName, &service{h: h}); err != nil {
		return fmt.Errorf("register ring service: %w", err)
	}
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Infof("ring server listening on %s", l.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer monitoring.Recover()
		s.accept(l, srv)
	}()
	return nil
}

func (s *Server) accept(l net.Listener, srv *rpc.Server) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Errorf("ring server accept: %v", err)
			}
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			srv.ServeConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting, drops open connections and waits for the serving
// goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	var err error
	if l != nil {
		err = l.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
