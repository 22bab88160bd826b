package shardrouter

import "fmt"

// BackendConnectError reports a shard whose SQL-backend session could
// not be opened at router startup (spec §7). Non-fatal on the router:
// the shard is skipped and Connect continues with the rest.
type BackendConnectError struct {
	ShardID string
	Err     error
}

func (e *BackendConnectError) Error() string {
	return fmt.Sprintf("shardrouter: backend connect to shard %s: %v", e.ShardID, e.Err)
}

func (e *BackendConnectError) Unwrap() error { return e.Err }

// ControlChannelError reports a control-channel connect/read/write
// failure (spec §7). Non-fatal; the affected shard is skipped at
// startup, or its memory updates are suppressed thereafter.
type ControlChannelError struct {
	ShardID string
	Err     error
}

func (e *ControlChannelError) Error() string {
	return fmt.Sprintf("shardrouter: control channel for shard %s: %v", e.ShardID, e.Err)
}

func (e *ControlChannelError) Unwrap() error { return e.Err }
