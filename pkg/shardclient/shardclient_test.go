package shardclient

import (
	"net"
	"testing"

	"github.com/shardline/sharddb/pkg/protocol"
	"github.com/shardline/sharddb/pkg/shardconfig"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// serveOnce accepts one connection on listener, decodes one message,
// and replies with the message respond builds from it.
func serveOnce(t *testing.T, listener net.Listener, respond func(protocol.Message) protocol.Message) {
	t.Helper()
	conn, err := listener.Accept()
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, protocol.MaxMessageSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	msg, err := protocol.Decode(string(buf[:n]))
	require.NoError(t, err)

	reply := respond(msg)
	encoded, err := protocol.Encode(reply)
	require.NoError(t, err)
	_, err = conn.Write([]byte(encoded))
	require.NoError(t, err)
}

// Fixed high ports for this test's fake shard and router control
// channels: a shard's control port is always its data port + 1000, so
// both ends here are picked to satisfy that relationship exactly.
const (
	testShardDataPort  = "39533"
	testShardCtrlPort  = "40533"
	testRouterDataPort = "39999"
	testRouterCtrlPort = "40999"
)

func TestDiscoverAndQuery(t *testing.T) {
	shardControl, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", testShardCtrlPort))
	require.NoError(t, err)
	defer shardControl.Close()

	routerControl, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", testRouterCtrlPort))
	require.NoError(t, err)
	defer routerControl.Close()

	go serveOnce(t, shardControl, func(protocol.Message) protocol.Message {
		return protocol.RouterID(protocol.NodeAddress{IP: "127.0.0.1", Port: testRouterDataPort})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveOnce(t, routerControl, func(msg protocol.Message) protocol.Message {
			require.Equal(t, protocol.TypeQuery, msg.Type)
			require.Equal(t, "SELECT 1;", msg.QueryText)
			return protocol.QueryResponse("ok")
		})
	}()

	nodes := []shardconfig.Node{{IP: "127.0.0.1", Port: testShardDataPort}}
	self := protocol.NodeAddress{IP: "127.0.0.1", Port: "0"}

	client, err := Discover(zap.NewNop(), self, nodes)
	require.NoError(t, err)
	defer client.Close()

	text, err := client.Query("SELECT 1;")
	require.NoError(t, err)
	require.Equal(t, "ok", text)

	<-done
}

func TestDiscoverExhaustsAllNodes(t *testing.T) {
	_, err := Discover(zap.NewNop(), protocol.NodeAddress{IP: "127.0.0.1", Port: "1"},
		[]shardconfig.Node{{IP: "127.0.0.1", Port: "59001"}, {IP: "127.0.0.1", Port: "59002"}})
	require.Error(t, err)
}
