// Package controlconn implements the request/reply call shared by
// every control-channel client in this system: the router dialing a
// shard, and a client dialing a shard or the router during discovery
// (spec §5 "per control channel: request→reply is strictly serial").
package controlconn

import (
	"fmt"
	"net"
	"time"

	"github.com/shardline/sharddb/pkg/protocol"
)

// ReadTimeout bounds every control-channel reply wait (spec §5).
const ReadTimeout = 10 * time.Second

// Call writes req on conn and reads exactly one reply. The caller owns
// conn and any locking required to keep request/reply pairs from
// interleaving on the same stream.
func Call(conn net.Conn, req protocol.Message) (protocol.Message, error) {
	encoded, err := protocol.Encode(req)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("controlconn: encode request: %w", err)
	}
	if _, err := conn.Write([]byte(encoded)); err != nil {
		return protocol.Message{}, fmt.Errorf("controlconn: write: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return protocol.Message{}, fmt.Errorf("controlconn: set deadline: %w", err)
	}

	buf := make([]byte, protocol.MaxMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("controlconn: read: %w", err)
	}

	reply, err := protocol.Decode(string(buf[:n]))
	if err != nil {
		return protocol.Message{}, fmt.Errorf("controlconn: decode reply: %w", err)
	}
	return reply, nil
}
