// Package shard implements the shard node: it owns a local SQL backend,
// accepts router control messages on its side-channel port, and
// answers memory/max-id refresh requests (spec §4.4).
package shard

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/shardline/sharddb/pkg/memory"
	"github.com/shardline/sharddb/pkg/observability"
	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/sqlbackend"
	"go.uber.org/zap"
)

// readTimeout bounds every control-stream read (spec §5).
const readTimeout = 10 * time.Second

// listenerRetryDelay is the cooperative sleep at the top of each
// control-message loop iteration (spec §4.4, §5).
const listenerRetryDelay = time.Millisecond

// Shard owns one local SQL backend and answers router control
// messages. Safe for concurrent use: each accepted control connection
// is handled on its own goroutine, and internal state is guarded by
// mutexes (spec §5 "shard.router_info and shard.tables_max_id — mutexes").
type Shard struct {
	logger  *zap.Logger
	shardID string
	backend *sqlbackend.Session

	memMu sync.Mutex
	mem   *memory.Manager

	routerMu sync.Mutex
	router   *protocol.NodeAddress

	tablesMu  sync.Mutex
	tablesMax *protocol.TablesIdInfo

	listener net.Listener
}

// New creates a Shard already connected to its local backend at
// ip:port, with its memory manager initialized and its per-table
// max-id snapshot populated (spec §4.4 startup steps 1-3). mountPath is
// the filesystem root the memory manager statfs's.
func New(logger *zap.Logger, ip, port string, reservedPct float64, mountPath string) (*Shard, error) {
	logger.Info("connecting to local backend", zap.String("ip", ip), zap.String("port", port))

	backend, err := sqlbackend.Connect(ip, port)
	if err != nil {
		return nil, fmt.Errorf("shard: connect to own backend: %w", err)
	}

	s := &Shard{
		logger:    logger,
		shardID:   port,
		backend:   backend,
		mem:       memory.New(reservedPct, mountPath),
		tablesMax: protocol.NewTablesIdInfo(),
	}

	s.refresh()

	logger.Info("shard created",
		zap.String("port", port),
		zap.Float64("available_pct", s.mem.AvailablePct()))

	return s, nil
}

// Refresh rescans table max-ids and recomputes available storage on
// demand, independent of any control message. cmd/shard's optional
// periodic scheduler calls this so available_pct does not go stale on
// an otherwise idle shard between router-driven refreshes.
func (s *Shard) Refresh() {
	s.refresh()
}

// refresh rescans table max-ids and recomputes available storage
// (spec §4.4 step 3, §4.4 "Refresh memory+max-ids").
func (s *Shard) refresh() {
	tables, err := s.backend.TableNames()
	if err != nil {
		s.logger.Warn("failed to list tables", zap.Error(err))
		tables = nil
	}

	info := protocol.NewTablesIdInfo()
	for _, table := range tables {
		info.Set(table, s.backend.MaxID(table))
	}

	s.tablesMu.Lock()
	s.tablesMax = info
	s.tablesMu.Unlock()

	s.memMu.Lock()
	if err := s.mem.Update(); err != nil {
		s.logger.Warn("failed to update memory stats", zap.Error(err))
	}
	availablePct := s.mem.AvailablePct()
	s.memMu.Unlock()

	observability.ShardFreePercent.WithLabelValues(s.shardID).Set(availablePct)
}

func (s *Shard) snapshot() (availablePct float64, maxIDs *protocol.TablesIdInfo) {
	s.memMu.Lock()
	availablePct = s.mem.AvailablePct()
	s.memMu.Unlock()

	s.tablesMu.Lock()
	maxIDs = s.tablesMax
	s.tablesMu.Unlock()

	return availablePct, maxIDs
}

// Listen runs the control-channel listener on ip:controlPort until the
// listener is closed. Each accepted connection is handled on its own
// goroutine (spec §4.4 step 4, §5).
func (s *Shard) Listen(ip, controlPort string) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(ip, controlPort))
	if err != nil {
		return fmt.Errorf("shard: listen on %s:%s: %w", ip, controlPort, err)
	}
	s.listener = listener

	s.logger.Info("accepting control connections", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("shard: accept: %w", err)
		}
		s.logger.Info("control connection accepted", zap.String("remote", conn.RemoteAddr().String()))
		go s.handleConnection(conn)
	}
}

// Close stops accepting new control connections.
func (s *Shard) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection serves one control stream for its lifetime: a
// strictly serial request/reply loop, one outstanding request at a
// time (spec §5).
func (s *Shard) handleConnection(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, protocol.MaxMessageSize)

	for {
		// Cooperative sleep so the stream has a chance to fill before the
		// next read (spec §4.4, §5).
		time.Sleep(listenerRetryDelay)

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Any other read failure is ignored and retried per spec §4.4
			// failure semantics, except end of stream (io.EOF), which ends
			// this connection's goroutine.
			if err == io.EOF {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		raw := string(buf[:n])
		if strings.TrimSpace(raw) == "" {
			continue
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Warn("dropping invalid message", zap.Error(err))
			continue
		}

		reply, ok := s.handle(msg)
		if !ok {
			continue
		}

		encoded, err := protocol.Encode(reply)
		if err != nil {
			s.logger.Warn("failed to encode reply", zap.Error(err))
			continue
		}
		if _, err := conn.Write([]byte(encoded)); err != nil {
			s.logger.Warn("failed to write reply", zap.Error(err))
			return
		}
	}
}

// handle dispatches one decoded message to its handler (spec §4.4's
// message table).
func (s *Shard) handle(msg protocol.Message) (protocol.Message, bool) {
	switch msg.Type {
	case protocol.TypeInitConnection:
		return s.handleInitConnection(msg), true
	case protocol.TypeAskMemoryUpdate:
		return s.handleAskMemoryUpdate(), true
	case protocol.TypeGetRouter:
		return s.handleGetRouter(), true
	case protocol.TypeQuery:
		return s.handleQuery(msg), true
	default:
		s.logger.Warn("unhandled message type", zap.String("type", string(msg.Type)))
		return protocol.Message{}, false
	}
}

func (s *Shard) handleInitConnection(msg protocol.Message) protocol.Message {
	if msg.NodeInfo != nil {
		s.routerMu.Lock()
		s.router = msg.NodeInfo
		s.routerMu.Unlock()
	}

	s.refresh()
	availablePct, maxIDs := s.snapshot()
	return protocol.Agreed(availablePct, maxIDs)
}

func (s *Shard) handleAskMemoryUpdate() protocol.Message {
	s.refresh()
	availablePct, maxIDs := s.snapshot()
	return protocol.MemoryUpdate(availablePct, maxIDs)
}

func (s *Shard) handleGetRouter() protocol.Message {
	s.routerMu.Lock()
	router := s.router
	s.routerMu.Unlock()

	if router == nil {
		return protocol.NoRouterData()
	}
	return protocol.RouterID(*router)
}

// handleQuery executes SQL on the local backend and returns it
// serialized as text: a header row of column names, then data rows
// with ' | '-separated columns, best-effort memory refresh afterward
// (spec §4.4 "send_query").
func (s *Shard) handleQuery(msg protocol.Message) protocol.Message {
	result, err := s.backend.Query(msg.QueryText)
	if err != nil {
		return protocol.QueryResponse(fmt.Sprintf("error: %v", err))
	}

	text := RenderResult(result)

	s.refresh()

	return protocol.QueryResponse(text)
}

// RenderResult serializes a query result as one header line of column
// names followed by one line per row, '|'-separated.
func RenderResult(result *sqlbackend.Result) string {
	if result == nil || len(result.Rows) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, " | "))
	for _, row := range result.Rows {
		b.WriteByte('\n')
		values := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			values[i] = row[col]
		}
		b.WriteString(strings.Join(values, " | "))
	}
	return b.String()
}
