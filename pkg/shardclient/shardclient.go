// Package shardclient implements the client node: it discovers the
// current router by probing every configured node's control port,
// then shuttles SQL strings to the router and returns its merged
// response text (spec §4.6).
package shardclient

import (
	"fmt"
	"net"
	"sync"

	"github.com/shardline/sharddb/pkg/controlconn"
	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"go.uber.org/zap"
)

// Client holds the single persistent query-channel connection to the
// current router, discovered once at startup.
type Client struct {
	logger *zap.Logger
	self   protocol.NodeAddress

	mu     sync.Mutex
	router net.Conn
}

// Discover probes every node in nodes (skipping self) on its control
// port with GET_ROUTER until one replies ROUTER_ID, then opens the
// query channel to that router (spec §4.6 "Router-discovery
// handshake"). Exhausting the list without a router returns an error;
// cmd/client treats that error as fatal, matching the original node's
// "panic on no valid router" policy.
func Discover(logger *zap.Logger, self protocol.NodeAddress, nodes []shardconfig.Node) (*Client, error) {
	for _, node := range nodes {
		if node.IP == self.IP && node.Port == self.Port {
			continue
		}

		controlPort, err := shardconfig.ControlPort(node.Port)
		if err != nil {
			logger.Warn("skipping node with invalid port", zap.String("node", node.Name), zap.Error(err))
			continue
		}

		conn, err := net.Dial("tcp", net.JoinHostPort(node.IP, controlPort))
		if err != nil {
			logger.Warn("probe failed", zap.String("node", node.Name), zap.Error(err))
			continue
		}

		reply, err := controlconn.Call(conn, protocol.GetRouter())
		conn.Close()
		if err != nil {
			logger.Warn("probe failed", zap.String("node", node.Name), zap.Error(err))
			continue
		}

		if reply.Type != protocol.TypeRouterID || reply.NodeInfo == nil {
			continue
		}

		routerControlPort, err := shardconfig.ControlPort(reply.NodeInfo.Port)
		if err != nil {
			logger.Warn("router reported invalid port", zap.Error(err))
			continue
		}

		routerConn, err := net.Dial("tcp", net.JoinHostPort(reply.NodeInfo.IP, routerControlPort))
		if err != nil {
			logger.Warn("failed to connect to router", zap.Error(err))
			continue
		}

		logger.Info("router discovered",
			zap.String("ip", reply.NodeInfo.IP), zap.String("port", reply.NodeInfo.Port))

		return &Client{logger: logger, self: self, router: routerConn}, nil
	}

	return nil, fmt.Errorf("shardclient: no router found among %d configured nodes", len(nodes))
}

// Query wraps sql in QUERY(self, sql), sends it on the router channel,
// and returns the QUERY_RESPONSE text (spec §4.6 "Query path").
func (c *Client) Query(sql string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := controlconn.Call(c.router, protocol.Query(c.self, sql))
	if err != nil {
		return "", fmt.Errorf("shardclient: query: %w", err)
	}
	if reply.Type != protocol.TypeQueryResponse {
		return "", fmt.Errorf("shardclient: unexpected reply type %s", reply.Type)
	}
	return reply.QueryText, nil
}

// Close releases the router query channel.
func (c *Client) Close() error {
	return c.router.Close()
}
