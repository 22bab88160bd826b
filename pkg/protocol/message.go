// Package protocol implements the flat, whitespace-delimited wire codec
// shared by the router, every shard, and the client (spec §4.1).
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxMessageSize is the fixed read-buffer size every control connection
// uses. A message that would not fit is rejected rather than truncated.
const MaxMessageSize = 1024

// Sentinel placeholder for an absent positional field.
const none = "None"

// ErrInvalidMessage is returned for any decode failure: unknown type,
// malformed numeric field, or a message exceeding MaxMessageSize.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// Type identifies one of the ten control/query message kinds.
type Type string

const (
	TypeInitConnection    Type = "INIT_CONNECTION"
	TypeAskMemoryUpdate   Type = "ASK_MEMORY_UPDATE"
	TypeMemoryUpdate      Type = "MEMORY_UPDATE"
	TypeAgreed            Type = "AGREED"
	TypeDenied            Type = "DENIED"
	TypeGetRouter         Type = "GET_ROUTER"
	TypeRouterID          Type = "ROUTER_ID"
	TypeNoRouterData      Type = "NO_ROUTER_DATA"
	TypeQuery             Type = "QUERY"
	TypeQueryResponse     Type = "QUERY_RESPONSE"
)

// NodeAddress is an (ip, port) pair. The control port for any node is
// always its data port + 1000.
type NodeAddress struct {
	IP   string
	Port string
}

func (a NodeAddress) String() string {
	return a.IP + ":" + a.Port
}

// ParseNodeAddress parses the "ip:port" wire form.
func ParseNodeAddress(s string) (NodeAddress, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return NodeAddress{}, fmt.Errorf("%w: malformed node address %q", ErrInvalidMessage, s)
	}
	return NodeAddress{IP: s[:idx], Port: s[idx+1:]}, nil
}

// TablesIdInfo is an ordered table_name -> max_id mapping. Ordering is
// insertion order and is significant: the router walks shards in
// registration order using this ordering to compute id-offsets.
type TablesIdInfo struct {
	keys   []string
	values map[string]int64
}

// NewTablesIdInfo returns an empty, ordered TablesIdInfo.
func NewTablesIdInfo() *TablesIdInfo {
	return &TablesIdInfo{values: make(map[string]int64)}
}

// Set inserts or overwrites table's max id, preserving first-seen order.
func (t *TablesIdInfo) Set(table string, maxID int64) {
	if _, ok := t.values[table]; !ok {
		t.keys = append(t.keys, table)
	}
	t.values[table] = maxID
}

// Get returns the recorded max id for table, if any.
func (t *TablesIdInfo) Get(table string) (int64, bool) {
	v, ok := t.values[table]
	return v, ok
}

// Keys returns table names in insertion order.
func (t *TablesIdInfo) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len reports the number of tables tracked.
func (t *TablesIdInfo) Len() int {
	return len(t.keys)
}

// String encodes as "table1:n1,table2:n2,...", no spaces.
func (t *TablesIdInfo) String() string {
	if t.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, t.Len())
	for _, k := range t.keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, t.values[k]))
	}
	return strings.Join(parts, ",")
}

// ParseTablesIdInfo decodes the "table1:n1,table2:n2,..." wire form.
func ParseTablesIdInfo(s string) (*TablesIdInfo, error) {
	info := NewTablesIdInfo()
	if s == "" {
		return info, nil
	}
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: malformed max_ids pair %q", ErrInvalidMessage, pair)
		}
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed max_ids value %q", ErrInvalidMessage, pair)
		}
		info.Set(parts[0], n)
	}
	return info, nil
}

// Message is the tagged record carried over every control and query
// channel. Only the fields meaningful for Type are populated; the rest
// are left at their zero value.
type Message struct {
	Type      Type
	Payload   *float64
	MaxIDs    *TablesIdInfo
	NodeInfo  *NodeAddress
	QueryText string
}

// Encode serializes m to its five-field wire form, terminated by '\n'.
func Encode(m Message) (string, error) {
	payload := none
	if m.Payload != nil {
		payload = strconv.FormatFloat(*m.Payload, 'g', -1, 64)
	}

	maxIDs := none
	if m.MaxIDs != nil {
		if s := m.MaxIDs.String(); s != "" {
			maxIDs = s
		}
	}

	nodeInfo := none
	if m.NodeInfo != nil {
		nodeInfo = m.NodeInfo.String()
	}

	query := none
	if m.QueryText != "" {
		query = m.QueryText
	}

	line := fmt.Sprintf("%s %s %s %s %s\n", m.Type, payload, maxIDs, nodeInfo, query)
	if len(line) > MaxMessageSize {
		return "", fmt.Errorf("%w: encoded message exceeds %d bytes", ErrInvalidMessage, MaxMessageSize)
	}
	return line, nil
}

// Decode parses the wire form produced by Encode. Unknown trailing
// fields are tolerated as None; an unknown type token or a malformed
// numeric field fails the whole decode.
func Decode(raw string) (Message, error) {
	if len(raw) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidMessage, MaxMessageSize)
	}

	fields := strings.Fields(strings.TrimRight(raw, "\n"))
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}

	typ := Type(fields[0])
	switch typ {
	case TypeInitConnection, TypeAskMemoryUpdate, TypeMemoryUpdate, TypeAgreed,
		TypeDenied, TypeGetRouter, TypeRouterID, TypeNoRouterData, TypeQuery, TypeQueryResponse:
	default:
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, fields[0])
	}

	m := Message{Type: typ}

	if len(fields) > 1 && fields[1] != none {
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: malformed payload %q", ErrInvalidMessage, fields[1])
		}
		m.Payload = &v
	}

	if len(fields) > 2 && fields[2] != none {
		ids, err := ParseTablesIdInfo(fields[2])
		if err != nil {
			return Message{}, err
		}
		m.MaxIDs = ids
	}

	if len(fields) > 3 && fields[3] != none {
		addr, err := ParseNodeAddress(fields[3])
		if err != nil {
			return Message{}, err
		}
		m.NodeInfo = &addr
	}

	if len(fields) > 4 {
		// Rejoin everything from here to the first ';', inclusive of any
		// embedded whitespace the Fields() split above broke apart.
		tail := strings.Join(fields[4:], " ")
		if tail != none {
			if idx := strings.Index(tail, ";"); idx >= 0 {
				tail = tail[:idx+1]
			}
			m.QueryText = tail
		}
	}

	return m, nil
}
