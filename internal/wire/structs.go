package wire

import "fmt"

// ObjectID is the ordered pair (high, low) identifying an object. Wire
// order is low-then-high (§6.2); in-memory ordering is lexicographic on
// (high, low), matching the container's map key.
type ObjectID struct {
	High int64
	Low  int64
}

// apply is the shared pointer-receiver implementation used both directly
// (Apply) and by embedding structs that need ObjectID inline without an
// extra allocation.
func (id *ObjectID) apply(s *Serializer) error {
	if err := s.I64("objectId.low", &id.Low); err != nil {
		return err
	}
	return s.I64("objectId.high", &id.High)
}

func (id *ObjectID) Apply(s *Serializer) error { return id.apply(s) }

// Less implements the lexicographic (high, low) total order from the data
// model. The container's object map is a Go map keyed by ObjectID and
// does not use this order.
func (id ObjectID) Less(other ObjectID) bool {
	if id.High != other.High {
		return id.High < other.High
	}
	return id.Low < other.Low
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%016x:%016x", uint64(id.High), uint64(id.Low))
}

// Iov describes a remote memory region: base address and access key.
type Iov struct {
	Addr uint64
	Key  uint64
}

func (v *Iov) Apply(s *Serializer) error {
	if err := s.U64("iov.addr", &v.Addr); err != nil {
		return err
	}
	return s.U64("iov.key", &v.Key)
}

// MessageHeader precedes every wire message.
type MessageHeader struct {
	MsgType      uint64
	LfClientID   uint64
	TCPClientID  uint64
	TCPClientKey uint64
}

func (h *MessageHeader) Apply(s *Serializer) error {
	if err := s.U64("header.msgType", &h.MsgType); err != nil {
		return err
	}
	if err := s.U64("header.lfClientId", &h.LfClientID); err != nil {
		return err
	}
	if err := s.U64("header.tcpClientId", &h.TCPClientID); err != nil {
		return err
	}
	return s.U64("header.tcpClientKey", &h.TCPClientKey)
}

// Empty is the zero-payload message used by BAD_AUTH.
type Empty struct{}

func (Empty) Apply(s *Serializer) error { return nil }

// ErrorMessage carries the FATAL_ERROR broadcast payload.
type ErrorMessage struct {
	Message string
}

func (m *ErrorMessage) Apply(s *Serializer) error {
	return s.String("errorMessage.message", &m.Message)
}

// FirstHandshake is the MSG_ASSIGN_ID payload completing the libfabric
// join handshake (distinct from the TCP auth handshake in §6.1).
type FirstHandshake struct {
	ProtocolVersion    int32
	AssignedLfClientID uint64
}

func (h *FirstHandshake) Apply(s *Serializer) error {
	if err := s.I32("handshake.protocolVersion", &h.ProtocolVersion); err != nil {
		return err
	}
	return s.U64("handshake.assignedLfClientId", &h.AssignedLfClientID)
}

// FirstClientMessage is the CONNECT_INIT payload: the joining client's own
// endpoint address, opaque to the server beyond its fixed width.
type FirstClientMessage struct {
	Addr [32]byte
}

func (m *FirstClientMessage) Apply(s *Serializer) error {
	return s.FixedBytes("firstClientMessage.addr", m.Addr[:])
}

// Ping is the PING payload.
type Ping struct {
	RdmaSize  uint64
	EagerSize uint64
	RdmaIov   Iov
	EagerData []byte
}

func (p *Ping) Apply(s *Serializer) error {
	if err := s.U64("ping.rdmaSize", &p.RdmaSize); err != nil {
		return err
	}
	if err := s.U64("ping.eagerSize", &p.EagerSize); err != nil {
		return err
	}
	if err := p.RdmaIov.Apply(s); err != nil {
		return err
	}
	if p.EagerSize == 0 {
		return nil
	}
	if s.action == ActionUnpack && len(p.EagerData) == 0 {
		p.EagerData = make([]byte, p.EagerSize)
	}
	return s.FixedBytes("ping.eagerData", p.EagerData)
}

// ObjReadWriteInfos is the OBJ_READ / OBJ_WRITE payload.
type ObjReadWriteInfos struct {
	ObjectID     ObjectID
	Iov          Iov
	Offset       uint64
	Size         uint64
	HasData      bool
	OptionalData []byte
}

func (o *ObjReadWriteInfos) Apply(s *Serializer) error {
	if err := o.ObjectID.apply(s); err != nil {
		return err
	}
	if err := o.Iov.Apply(s); err != nil {
		return err
	}
	if err := s.U64("objReadWrite.offset", &o.Offset); err != nil {
		return err
	}
	if err := s.U64("objReadWrite.size", &o.Size); err != nil {
		return err
	}
	if err := s.Bool("objReadWrite.hasData", &o.HasData); err != nil {
		return err
	}
	if !o.HasData {
		return nil
	}
	if s.action == ActionUnpack && len(o.OptionalData) == 0 {
		o.OptionalData = make([]byte, o.Size)
	}
	return s.FixedBytes("objReadWrite.data", o.OptionalData)
}

// ObjFlushInfos is the OBJ_FLUSH payload.
type ObjFlushInfos struct {
	ObjectID ObjectID
	Offset   uint64
	Size     uint64
}

func (o *ObjFlushInfos) Apply(s *Serializer) error {
	if err := o.ObjectID.apply(s); err != nil {
		return err
	}
	if err := s.U64("objFlush.offset", &o.Offset); err != nil {
		return err
	}
	return s.U64("objFlush.size", &o.Size)
}

// ObjCreateInfos is the OBJ_CREATE payload.
type ObjCreateInfos struct {
	ObjectID ObjectID
}

func (o *ObjCreateInfos) Apply(s *Serializer) error {
	return o.ObjectID.apply(s)
}

// RegisterRange is the OBJ_RANGE_REGISTER payload.
type RegisterRange struct {
	ObjectID ObjectID
	Offset   uint64
	Size     uint64
	Write    bool
}

func (r *RegisterRange) Apply(s *Serializer) error {
	if err := r.ObjectID.apply(s); err != nil {
		return err
	}
	if err := s.U64("registerRange.offset", &r.Offset); err != nil {
		return err
	}
	if err := s.U64("registerRange.size", &r.Size); err != nil {
		return err
	}
	return s.Bool("registerRange.write", &r.Write)
}

func (r *RegisterRange) Mode() AccessMode {
	if r.Write {
		return AccessWrite
	}
	return AccessRead
}

// UnregisterRange is the OBJ_RANGE_UNREGISTER payload.
type UnregisterRange struct {
	ObjectID ObjectID
	Offset   uint64
	Size     uint64
	ID       int32
	Write    bool
}

func (r *UnregisterRange) Apply(s *Serializer) error {
	if err := r.ObjectID.apply(s); err != nil {
		return err
	}
	if err := s.U64("unregisterRange.offset", &r.Offset); err != nil {
		return err
	}
	if err := s.U64("unregisterRange.size", &r.Size); err != nil {
		return err
	}
	if err := s.I32("unregisterRange.id", &r.ID); err != nil {
		return err
	}
	return s.Bool("unregisterRange.write", &r.Write)
}

func (r *UnregisterRange) Mode() AccessMode {
	if r.Write {
		return AccessWrite
	}
	return AccessRead
}

// ObjectCow is the OBJ_COW payload.
type ObjectCow struct {
	SourceObjectID ObjectID
	DestObjectID   ObjectID
	AllowExist     bool
	RangeOffset    uint64
	RangeSize      uint64
}

func (c *ObjectCow) Apply(s *Serializer) error {
	if err := c.SourceObjectID.apply(s); err != nil {
		return err
	}
	if err := c.DestObjectID.apply(s); err != nil {
		return err
	}
	if err := s.Bool("objectCow.allowExist", &c.AllowExist); err != nil {
		return err
	}
	if err := s.U64("objectCow.rangeOffset", &c.RangeOffset); err != nil {
		return err
	}
	return s.U64("objectCow.rangeSize", &c.RangeSize)
}

// IsFull reports whether this is a full-object COW request (zero range
// size), as opposed to a ranged COW.
func (c *ObjectCow) IsFull() bool { return c.RangeSize == 0 }

// Response is the generic ack payload (PONG and every *_ACK message).
// Bare form (no data) is 13 bytes: msgDataSize(8) + status(4) + hasData(1).
type Response struct {
	MsgDataSize           uint64
	Status                int32
	HasData               bool
	OptionalData          []byte
	OptionalDataFragments [][]byte
}

func (r *Response) Apply(s *Serializer) error {
	// Fragments are flattened to a single contiguous run on pack/size and
	// reassembled into OptionalData (not split back into fragments) on
	// unpack, matching the round-trip law: packs to the concatenation,
	// unpacks to a single contiguous slice.
	if len(r.OptionalDataFragments) > 0 && s.action != ActionUnpack {
		total := 0
		for _, f := range r.OptionalDataFragments {
			if len(f) == 0 {
				return ErrShortFragment
			}
			total += len(f)
		}
		flat := make([]byte, 0, total)
		for _, f := range r.OptionalDataFragments {
			flat = append(flat, f...)
		}
		r.OptionalData = flat
		r.MsgDataSize = uint64(total)
		r.HasData = total > 0
	}
	if s.action == ActionPack || s.action == ActionSize {
		r.MsgDataSize = uint64(len(r.OptionalData))
	}
	if err := s.U64("response.msgDataSize", &r.MsgDataSize); err != nil {
		return err
	}
	if err := s.I32("response.status", &r.Status); err != nil {
		return err
	}
	if err := s.Bool("response.hasData", &r.HasData); err != nil {
		return err
	}
	if !r.HasData {
		return nil
	}
	if s.action == ActionUnpack && uint64(len(r.OptionalData)) != r.MsgDataSize {
		r.OptionalData = make([]byte, r.MsgDataSize)
	}
	return s.FixedBytes("response.data", r.OptionalData)
}

// NewStatusResponse builds a status-only Response.
func NewStatusResponse(status int32) *Response {
	return &Response{Status: status}
}

// NewDataResponse builds a Response carrying contiguous inline data.
func NewDataResponse(status int32, data []byte) *Response {
	return &Response{Status: status, HasData: len(data) > 0, OptionalData: data}
}

// NewFragmentedResponse builds a Response from a gather list of fragments.
func NewFragmentedResponse(status int32, fragments [][]byte) *Response {
	return &Response{Status: status, OptionalDataFragments: fragments}
}
