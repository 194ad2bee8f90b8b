package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lumeo-crm/notifyd/internal/alerts"
	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/config"
	"github.com/lumeo-crm/notifyd/internal/media"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/lumeo-crm/notifyd/internal/paths"
	"github.com/lumeo-crm/notifyd/internal/store"
	"go.uber.org/zap"
)

// Request is one control command, sent as a single JSON line over the
// profile's Unix socket. Unused fields are omitted per command.
type Request struct {
	Command string `json:"command"`

	// media-download / media-retry / media-status
	MessageID string `json:"message_id,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	// alerts-status / alerts-ack
	Category string `json:"category,omitempty"`
	ID       string `json:"id,omitempty"`
	Mode     string `json:"mode,omitempty"`

	// lead-status
	LeadID        string `json:"lead_id,omitempty"`
	Status        string `json:"status,omitempty"`
	ResponsibleID string `json:"responsible_id,omitempty"`
	Action        string `json:"action,omitempty"`
	OldValue      string `json:"old_value,omitempty"`
	NewValue      string `json:"new_value,omitempty"`

	// notify
	UserID  string         `json:"user_id,omitempty"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// feed-status
	EntityType string `json:"entity_type,omitempty"`
	Filter     string `json:"filter,omitempty"`

	// watch
	Namespace string `json:"namespace,omitempty"`
}

// Response is one JSON line answering a Request. For watch, the server
// instead streams bus events until the client disconnects.
type Response struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Server is the daemon's local command surface: a line-delimited JSON
// protocol over the profile's Unix socket, serving the UI processes that
// trigger downloads, acknowledge alerts, and issue lead updates.
type Server struct {
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	cfg     *config.Config
	bus     *bus.Bus
	writer  *outbound.Writer
	tracker *media.Tracker
	manager *changefeed.Manager
	sup     *Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// NewServer creates a control server bound to the profile's Unix socket.
func NewServer(p Params, logger *zap.Logger, cfg *config.Config, b *bus.Bus, w *outbound.Writer, tracker *media.Tracker, manager *changefeed.Manager, sup *Supervisor) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		cfg:        cfg,
		bus:        b,
		writer:     w,
		tracker:    tracker,
		manager:    manager,
		sup:        sup,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start accepts connections until stopped. Blocks.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return err
			}
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer func() { _ = conn.Close() }()
			s.serveConn(conn)
		}()
	}
}

// Stop closes the listener, waits for in-flight connections, and removes
// the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("control server stopping")
	s.cancel()
	_ = s.listener.Close()
	s.conns.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) serveConn(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}
		if req.Command == "watch" {
			s.watch(conn, enc, req.Namespace)
			return
		}
		if err := enc.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

// watch streams bus events matching the namespace to the client until the
// connection drops or the server stops.
func (s *Server) watch(conn net.Conn, enc *json.Encoder, namespace string) {
	ch, unsubscribe := s.bus.Subscribe(namespace, 64)
	defer unsubscribe()
	for {
		select {
		case evt := <-ch:
			if err := enc.Encode(evt); err != nil {
				return
			}
		case <-s.ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case "media-download", "media-retry", "media-status":
		return s.handleMedia(req)
	case "alerts-status":
		return s.handleAlertsStatus(req)
	case "alerts-ack":
		return s.handleAlertsAck(req)
	case "lead-status":
		return s.handleLeadStatus(req)
	case "notify":
		return s.handleNotify(req)
	case "feed-status":
		return s.handleFeedStatus(req)
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) handleMedia(req Request) Response {
	if req.MessageID == "" {
		return Response{Error: "message_id required"}
	}
	mt := media.MediaType(req.MediaType)
	switch mt {
	case media.TypeImage, media.TypeAudio, media.TypeVideo, media.TypeDocument:
	default:
		return Response{Error: fmt.Sprintf("unknown media type %q", req.MediaType)}
	}
	t := s.tracker.Transfer(req.MessageID, mt)
	switch req.Command {
	case "media-download":
		t.Start(s.ctx)
	case "media-retry":
		t.Retry(s.ctx)
	}
	return Response{OK: true, Result: t.Snapshot()}
}

func (s *Server) handleAlertsStatus(req Request) Response {
	svc, ok := s.sup.Service()
	if !ok {
		return Response{Error: "alerts unavailable"}
	}
	if req.Category == "" {
		snaps := make(map[string]alerts.Snapshot)
		for _, cat := range alerts.Categories {
			if c, ok := svc.Controller(cat); ok {
				snaps[string(cat)] = c.Snapshot()
			}
		}
		return Response{OK: true, Result: snaps}
	}
	c, ok := svc.Controller(alerts.Category(req.Category))
	if !ok {
		return Response{Error: fmt.Sprintf("no controller for category %q", req.Category)}
	}
	return Response{OK: true, Result: c.Snapshot()}
}

func (s *Server) handleAlertsAck(req Request) Response {
	svc, ok := s.sup.Service()
	if !ok {
		return Response{Error: "alerts unavailable"}
	}
	c, ok := svc.Controller(alerts.Category(req.Category))
	if !ok {
		return Response{Error: fmt.Sprintf("no controller for category %q", req.Category)}
	}
	if req.ID == "" {
		return Response{Error: "id required"}
	}
	mode := alerts.AckMode(req.Mode)
	switch mode {
	case alerts.AckOpen, alerts.AckDismiss:
	case "":
		mode = alerts.AckOpen
	default:
		return Response{Error: fmt.Sprintf("unknown ack mode %q", req.Mode)}
	}
	c.Acknowledge(req.ID, mode)
	return Response{OK: true, Result: c.Snapshot()}
}

func (s *Server) handleLeadStatus(req Request) Response {
	if req.LeadID == "" || req.Status == "" {
		return Response{Error: "lead_id and status required"}
	}
	action := req.Action
	if action == "" {
		action = "status_change"
	}
	s.writer.UpdateLeadStatus(req.LeadID, req.Status, req.ResponsibleID, &store.LeadHistory{
		LeadID:   req.LeadID,
		UserID:   s.cfg.UserID,
		UserName: s.cfg.UserName,
		Action:   action,
		OldValue: req.OldValue,
		NewValue: req.NewValue,
	})
	return Response{OK: true}
}

func (s *Server) handleNotify(req Request) Response {
	userID := req.UserID
	if userID == "" {
		userID = s.cfg.UserID
	}
	n := &store.Notification{
		UserID:    userID,
		Category:  req.Category,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.writer.CreateNotification(n)
	return Response{OK: true, Result: n.ID}
}

func (s *Server) handleFeedStatus(req Request) Response {
	key := changefeed.Key{EntityType: req.EntityType, Filter: req.Filter}
	h, ok := s.manager.Lookup(key)
	if !ok {
		return Response{Error: fmt.Sprintf("no feed for %s", key)}
	}
	return Response{OK: true, Result: string(h.State())}
}
