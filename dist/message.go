package dist

import "fmt"

// MsgType discriminates coordinator messages.
type MsgType uint8

const (
	// MsgPush carries one push contribution to a key's owner.
	MsgPush MsgType = iota + 1
	// MsgPullReq asks a key's owner for its current value.
	MsgPullReq
	// MsgRowSparsePullReq asks for a subset of rows of a row-sparse key.
	MsgRowSparsePullReq
	// MsgPullResp answers a pull request.
	MsgPullResp
)

func (t MsgType) String() string {
	switch t {
	case MsgPush:
		return "push"
	case MsgPullReq:
		return "pull_req"
	case MsgRowSparsePullReq:
		return "row_sparse_pull_req"
	case MsgPullResp:
		return "pull_resp"
	default:
		return fmt.Sprintf("msg_type(%d)", uint8(t))
	}
}

// Message is the unit the coordinator hands to the transport. The tensor
// payload travels as a codec frame, so shape, dtype, storage kind and row
// indices round-trip exactly; the transport only moves opaque bytes.
type Message struct {
	Type  MsgType
	Key   string
	ReqID uint64  // correlates MsgPullResp with its request
	Rows  []int64 // requested row ids (MsgRowSparsePullReq only)
	Frame []byte  // encoded tensor (MsgPush payload, MsgPullResp result)
	Err   string  // non-empty on a failed MsgPullResp
}

// size approximates the bytes a message puts on the wire, for the resource
// budget.
func (m Message) size() int {
	return len(m.Frame) + len(m.Rows)*8 + len(m.Key) + 16
}
