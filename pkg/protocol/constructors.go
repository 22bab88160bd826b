package protocol

// Convenience constructors for the message shapes listed in spec §6's
// control-protocol table. Each sets exactly the fields meaningful for
// its type; everything else is left zero.

func f64ptr(v float64) *float64 { return &v }

func InitConnection(sender NodeAddress) Message {
	return Message{Type: TypeInitConnection, NodeInfo: &sender}
}

func Agreed(availablePct float64, maxIDs *TablesIdInfo) Message {
	return Message{Type: TypeAgreed, Payload: f64ptr(availablePct), MaxIDs: maxIDs}
}

func Denied() Message {
	return Message{Type: TypeDenied}
}

func AskMemoryUpdate() Message {
	return Message{Type: TypeAskMemoryUpdate}
}

func MemoryUpdate(availablePct float64, maxIDs *TablesIdInfo) Message {
	return Message{Type: TypeMemoryUpdate, Payload: f64ptr(availablePct), MaxIDs: maxIDs}
}

func GetRouter() Message {
	return Message{Type: TypeGetRouter}
}

func RouterID(addr NodeAddress) Message {
	return Message{Type: TypeRouterID, NodeInfo: &addr}
}

func NoRouterData() Message {
	return Message{Type: TypeNoRouterData}
}

func Query(sender NodeAddress, sql string) Message {
	return Message{Type: TypeQuery, NodeInfo: &sender, QueryText: sql}
}

func QueryResponse(text string) Message {
	return Message{Type: TypeQueryResponse, QueryText: text}
}
