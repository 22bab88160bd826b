// Package shardrouter implements the router node: it holds a
// persistent SQL-backend session and a control-channel connection per
// shard, classifies and routes incoming queries, dispatches them, and
// merges cross-shard SELECT results with id-offset rewriting (spec
// §4.5).
package shardrouter

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shardline/sharddb/pkg/controlconn"
	"github.com/shardline/sharddb/pkg/observability"
	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/queryrouting"
	"github.com/shardline/sharddb/pkg/shard"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"github.com/shardline/sharddb/pkg/shardmanager"
	"github.com/shardline/sharddb/pkg/sqlbackend"
	"go.uber.org/zap"
)

const readTimeout = 10 * time.Second
const listenerRetryDelay = time.Millisecond

// rowSeparator is the NUL byte spec §4.5 mandates between merged rows
// so embedded newlines in column values stay unambiguous.
const rowSeparator = "\x00"

// ShardEntry is one router-side shard directory entry: a persistent
// backend session (the query path) plus a persistent control-channel
// connection (the INIT_CONNECTION handshake and memory updates), per
// spec §3's ShardEntry invariant.
type ShardEntry struct {
	ID      string
	Addr    protocol.NodeAddress
	Backend *sqlbackend.Session

	controlMu sync.Mutex
	control   net.Conn
}

// Router owns the shard directory and the client-facing listener.
// Safe for concurrent use: the directory is guarded by mu, each
// ShardEntry's control stream by its own mutex (spec §5 "shards_map"/
// "control_channels" locking).
type Router struct {
	logger *zap.Logger
	self   protocol.NodeAddress

	mu     sync.RWMutex
	shards map[string]*ShardEntry
	order  []string

	manager *shardmanager.Manager

	listener net.Listener
}

// New creates an empty Router identified by self (its own data-port
// address; clients and shards address it there + 1000).
func New(logger *zap.Logger, self protocol.NodeAddress) *Router {
	return &Router{
		logger:  logger,
		self:    self,
		shards:  make(map[string]*ShardEntry),
		manager: shardmanager.New(),
	}
}

// Connect opens a backend session and a control channel to every node
// in nodes other than self, performs the INIT_CONNECTION handshake,
// and on AGREED registers the shard in the directory and the
// selection heap (spec §4.5 Startup steps 1-3). A shard that fails any
// step is skipped, not fatal.
func (r *Router) Connect(nodes []shardconfig.Node) {
	for _, node := range nodes {
		if node.IP == r.self.IP && node.Port == r.self.Port {
			continue
		}
		if err := r.connectOne(node); err != nil {
			r.logger.Warn("skipping shard", zap.String("shard", node.Port), zap.Error(err))
		}
	}
}

func (r *Router) connectOne(node shardconfig.Node) error {
	backend, err := sqlbackend.Connect(node.IP, node.Port)
	if err != nil {
		return &BackendConnectError{ShardID: node.Port, Err: err}
	}

	controlPort, err := shardconfig.ControlPort(node.Port)
	if err != nil {
		backend.Close()
		return fmt.Errorf("shardrouter: %s: %w", node.Port, err)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(node.IP, controlPort))
	if err != nil {
		backend.Close()
		return &ControlChannelError{ShardID: node.Port, Err: err}
	}

	reply, err := controlconn.Call(conn, protocol.InitConnection(r.self))
	if err != nil {
		conn.Close()
		backend.Close()
		return &ControlChannelError{ShardID: node.Port, Err: err}
	}
	if reply.Type != protocol.TypeAgreed {
		conn.Close()
		backend.Close()
		return fmt.Errorf("shardrouter: %s: expected AGREED, got %s", node.Port, reply.Type)
	}

	entry := &ShardEntry{
		ID:      node.Port,
		Addr:    protocol.NodeAddress{IP: node.IP, Port: node.Port},
		Backend: backend,
		control: conn,
	}

	freePct := 0.0
	if reply.Payload != nil {
		freePct = *reply.Payload
	}

	r.mu.Lock()
	r.shards[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	r.mu.Unlock()

	r.manager.AddShard(freePct, entry.ID)
	observability.ShardFreePercent.WithLabelValues(entry.ID).Set(freePct)
	if reply.MaxIDs != nil {
		r.manager.SaveMaxIdsForShard(entry.ID, reply.MaxIDs)
	}

	r.logger.Info("shard registered",
		zap.String("shard", entry.ID), zap.Float64("available_pct", freePct))
	return nil
}

// Listen accepts client connections on ip:controlPort (spec §4.5
// Startup step 4). Each connection is handled on its own goroutine.
func (r *Router) Listen(ip, controlPort string) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(ip, controlPort))
	if err != nil {
		return fmt.Errorf("shardrouter: listen on %s:%s: %w", ip, controlPort, err)
	}
	r.listener = listener

	r.logger.Info("accepting client connections", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("shardrouter: accept: %w", err)
		}
		go r.handleClientConnection(conn)
	}
}

// Close stops accepting new client connections.
func (r *Router) Close() error {
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

func (r *Router) handleClientConnection(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, protocol.MaxMessageSize)

	for {
		time.Sleep(listenerRetryDelay)

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
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
			r.logger.Warn("dropping invalid message", zap.Error(err))
			continue
		}

		var reply protocol.Message
		switch msg.Type {
		case protocol.TypeGetRouter:
			reply = protocol.RouterID(r.self)
		case protocol.TypeQuery:
			reply = r.HandleQuery(msg)
		default:
			r.logger.Warn("unhandled message type", zap.String("type", string(msg.Type)))
			continue
		}

		encoded, err := protocol.Encode(reply)
		if err != nil {
			r.logger.Warn("failed to encode reply", zap.Error(err))
			continue
		}
		if _, err := conn.Write([]byte(encoded)); err != nil {
			r.logger.Warn("failed to write reply", zap.Error(err))
			return
		}
	}
}

// HandleQuery runs a client QUERY message through Dispatch and wraps
// the result (or failure) as a QUERY_RESPONSE.
func (r *Router) HandleQuery(msg protocol.Message) protocol.Message {
	text, err := r.Dispatch(msg.QueryText)
	if err != nil {
		return protocol.QueryResponse(fmt.Sprintf("error: %v", err))
	}
	return protocol.QueryResponse(text)
}

// Dispatch classifies sql, selects target shards, executes the
// (possibly rewritten) statement on each target's backend session,
// refreshes memory/max-id state where required, and merges the
// responses (spec §4.5 Target selection/Dispatch/Response merging).
func (r *Router) Dispatch(sql string) (string, error) {
	requestID := uuid.New().String()
	logger := r.logger.With(zap.String("request_id", requestID))

	kw := queryrouting.Classify(sql)
	table := queryrouting.ExtractTable(sql)

	targets, queries, requiresUpdate := r.selectTargets(sql, kw, table)
	if len(targets) == 0 {
		logger.Warn("no shard available for query", zap.String("keyword", string(kw)))
		return "", fmt.Errorf("shardrouter: no shard available")
	}

	r.mu.RLock()
	shards := make(map[string]*ShardEntry, len(targets))
	for _, id := range targets {
		shards[id] = r.shards[id]
	}
	r.mu.RUnlock()

	results := make(map[string]*sqlbackend.Result, len(targets))
	for _, shardID := range targets {
		entry := shards[shardID]
		if entry == nil {
			continue
		}

		start := time.Now()
		res, err := entry.Backend.Query(queries[shardID])
		observability.QueryDuration.WithLabelValues(shardID, string(kw)).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.QueryTotal.WithLabelValues(shardID, "error").Inc()
			logger.Warn("shard query failed", zap.String("shard", shardID), zap.Error(err))
			continue
		}
		observability.QueryTotal.WithLabelValues(shardID, "ok").Inc()
		results[shardID] = res

		if requiresUpdate {
			r.refreshShardMemory(logger, entry)
		}
	}

	if kw == queryrouting.KeywordSelect {
		return r.mergeSelect(targets, table, results), nil
	}
	return r.mergeOther(targets, results), nil
}

// selectTargets implements spec §4.5's target-selection algorithm.
func (r *Router) selectTargets(sql string, kw queryrouting.Keyword, table string) ([]string, map[string]string, bool) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	if id, ok := queryrouting.ExtractWhereID(sql); ok && table != "" {
		remaining := id
		for _, shardID := range order {
			maxK, _ := r.manager.GetMaxIdsForShardTable(shardID, table)
			if remaining > maxK {
				remaining -= maxK
				continue
			}
			rewritten := queryrouting.RewriteWhereID(sql, remaining)
			return []string{shardID}, map[string]string{shardID: rewritten}, kw.RequiresMemoryUpdate()
		}
		return r.fanOut(order, sql, kw.RequiresMemoryUpdate())
	}

	if kw == queryrouting.KeywordInsert {
		shardID, ok := r.manager.PeekAcceptingInserts()
		if !ok {
			return nil, nil, false
		}
		return []string{shardID}, map[string]string{shardID: sql}, true
	}

	return r.fanOut(order, sql, kw.RequiresMemoryUpdate())
}

func (r *Router) fanOut(order []string, sql string, requiresUpdate bool) ([]string, map[string]string, bool) {
	queries := make(map[string]string, len(order))
	for _, id := range order {
		queries[id] = sql
	}
	return order, queries, requiresUpdate
}

// refreshShardMemory asks entry's shard to recompute its memory/max-id
// state and folds the reply into the selection heap (spec §4.5
// Dispatch step 3). A failure here is logged and skips this update; it
// never fails the query itself. There is no reconnect, so once the
// control channel is lost every later update for this shard fails too.
func (r *Router) refreshShardMemory(logger *zap.Logger, entry *ShardEntry) {
	entry.controlMu.Lock()
	reply, err := controlconn.Call(entry.control, protocol.AskMemoryUpdate())
	entry.controlMu.Unlock()

	if err != nil {
		logger.Warn("control channel memory update failed",
			zap.String("shard", entry.ID), zap.Error(&ControlChannelError{ShardID: entry.ID, Err: err}))
		return
	}
	if reply.Type != protocol.TypeMemoryUpdate {
		logger.Warn("unexpected reply to ASK_MEMORY_UPDATE", zap.String("shard", entry.ID))
		return
	}

	freePct := 0.0
	if reply.Payload != nil {
		freePct = *reply.Payload
	}
	r.manager.UpdateShardMemory(freePct, entry.ID)
	observability.ShardFreePercent.WithLabelValues(entry.ID).Set(freePct)
	if reply.MaxIDs != nil {
		r.manager.SaveMaxIdsForShard(entry.ID, reply.MaxIDs)
	}
}

// mergeSelect implements spec §4.5's cross-shard SELECT merge: a
// header row, then each target shard's rows in registration order
// with a cumulative id offset, separated by the NUL byte.
func (r *Router) mergeSelect(targets []string, table string, results map[string]*sqlbackend.Result) string {
	var columns []string
	var rows []string
	offset := int64(0)
	any := false

	for _, shardID := range targets {
		res, ok := results[shardID]
		if ok && res != nil {
			if columns == nil && len(res.Columns) > 0 {
				columns = res.Columns
			}
			for _, row := range res.Rows {
				any = true
				rows = append(rows, renderRow(columns, applyIDOffset(row, offset)))
			}
		}

		maxID, _ := r.manager.GetMaxIdsForShardTable(shardID, table)
		offset += maxID
	}

	if !any {
		return ""
	}
	return strings.Join(columns, " | ") + "\n" + strings.Join(rows, rowSeparator)
}

// mergeOther implements spec §4.5's non-SELECT fallback: the
// concatenated raw per-shard results.
func (r *Router) mergeOther(targets []string, results map[string]*sqlbackend.Result) string {
	var parts []string
	for _, shardID := range targets {
		res, ok := results[shardID]
		if !ok {
			continue
		}
		if text := shard.RenderResult(res); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// applyIDOffset returns a copy of row with its "id" column advanced by
// offset, leaving every other column untouched. Rows without an "id"
// column, or with a non-numeric one, are returned unchanged.
func applyIDOffset(row sqlbackend.Row, offset int64) sqlbackend.Row {
	if offset == 0 {
		return row
	}
	v, ok := row["id"]
	if !ok {
		return row
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return row
	}

	out := make(sqlbackend.Row, len(row))
	for k, val := range row {
		out[k] = val
	}
	out["id"] = strconv.FormatInt(n+offset, 10)
	return out
}

func renderRow(columns []string, row sqlbackend.Row) string {
	values := make([]string, len(columns))
	for i, col := range columns {
		values[i] = row[col]
	}
	return strings.Join(values, " | ")
}
