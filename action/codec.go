package action

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	json "github.com/goccy/go-json"

	"github.com/cosimrt/corekit/ids"
	"github.com/cosimrt/corekit/simtime"
)

// WireVersion is the first byte of every serialized ActionMessage, letting a
// future codec revision detect and reject messages from an incompatible
// build (spec §4.1: "a version byte is part of the header").
const WireVersion byte = 1

var byteOrder = binary.LittleEndian

// headerLen is the size in bytes of the fixed header written by ToBytes,
// before the payload-length/payload and string-vector sections. Kept as a
// named constant so Depacketize callers can size read buffers without
// re-deriving it.
const headerLen = 1 /*version*/ + 2 /*action*/ + 4 /*messageID*/ +
	8 /*sourceID*/ + 4 /*sourceHandle*/ + 8 /*destID*/ + 4 /*destHandle*/ +
	2 /*counter*/ + 2 /*flags*/ + 4 /*sequenceID*/ +
	8 + 8 + 8 + 8 /*four times*/

// hasStringData reports whether this action's wire form includes the
// string-data section. Only the bare protocol, ping and tick commands omit
// it, keeping their encoded form minimal; every other kind, priority
// commands included, carries the section.
func hasStringData(kind MessageKind) bool {
	switch kind {
	case CmdPing, CmdPingReply, CmdTick, CmdProtocol, CmdProtocolPriority, CmdProtocolBig:
		return false
	}
	return true
}

// ToBytes serializes m into its compact binary wire form: a fixed header,
// followed by a length-prefixed payload, followed — for messages whose kind
// carries one — by a count-prefixed, each-length-prefixed string vector.
func ToBytes(m ActionMessage) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(WireVersion)
	writeI16(buf, int16(m.Action))
	writeI32(buf, m.MessageID)
	writeI64(buf, int64(m.SourceID))
	writeI32(buf, int32(m.SourceHandle))
	writeI64(buf, int64(m.DestID))
	writeI32(buf, int32(m.DestHandle))
	writeU16(buf, m.Counter)
	writeU16(buf, uint16(m.Flags))
	writeU32(buf, m.SequenceID)
	writeF64(buf, float64(m.ActionTime))
	writeF64(buf, float64(m.Te))
	writeF64(buf, float64(m.Tdemin))
	writeF64(buf, float64(m.Tso))

	writeU32(buf, uint32(len(m.Payload)))
	buf.Write(m.Payload)

	if hasStringData(m.Action) {
		writeU32(buf, uint32(len(m.StringData)))
		for _, s := range m.StringData {
			sb := []byte(s)
			writeU32(buf, uint32(len(sb)))
			buf.Write(sb)
		}
	}
	return buf.Bytes()
}

// FromBytes deserializes an ActionMessage previously produced by ToBytes.
func FromBytes(data []byte) (ActionMessage, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return ActionMessage{}, fmt.Errorf("action: reading version: %w", err)
	}
	if version != WireVersion {
		return ActionMessage{}, fmt.Errorf("action: unsupported wire version %d", version)
	}
	var m ActionMessage
	// RouteHint never crosses the wire; a freshly decoded message is
	// unstamped until the receiving transport fills it in.
	m.RouteHint = ids.InvalidRouteID

	actionCode, err := readI16(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.Action = MessageKind(actionCode)

	if m.MessageID, err = readI32(r); err != nil {
		return ActionMessage{}, err
	}
	src, err := readI64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.SourceID = ids.GlobalFederateID(src)
	sh, err := readI32(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.SourceHandle = ids.InterfaceHandle(sh)
	dst, err := readI64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.DestID = ids.GlobalFederateID(dst)
	dh, err := readI32(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.DestHandle = ids.InterfaceHandle(dh)

	if m.Counter, err = readU16(r); err != nil {
		return ActionMessage{}, err
	}
	flags, err := readU16(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.Flags = Flags(flags)
	if m.SequenceID, err = readU32(r); err != nil {
		return ActionMessage{}, err
	}

	at, err := readF64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.ActionTime = simtime.Time(at)
	te, err := readF64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.Te = simtime.Time(te)
	tdemin, err := readF64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.Tdemin = simtime.Time(tdemin)
	tso, err := readF64(r)
	if err != nil {
		return ActionMessage{}, err
	}
	m.Tso = simtime.Time(tso)

	payloadLen, err := readU32(r)
	if err != nil {
		return ActionMessage{}, err
	}
	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return ActionMessage{}, fmt.Errorf("action: reading payload: %w", err)
		}
	}

	if hasStringData(m.Action) {
		count, err := readU32(r)
		if err != nil {
			return ActionMessage{}, err
		}
		if count > 0 {
			m.StringData = make([]string, count)
			for i := range m.StringData {
				strLen, err := readU32(r)
				if err != nil {
					return ActionMessage{}, err
				}
				sb := make([]byte, strLen)
				if _, err := io.ReadFull(r, sb); err != nil {
					return ActionMessage{}, fmt.Errorf("action: reading string-data[%d]: %w", i, err)
				}
				m.StringData[i] = string(sb)
			}
		}
	}
	return m, nil
}

// Packetize prepends a 4-byte big-endian frame length to the binary form of
// m, for transmission over a stream transport that doesn't preserve message
// boundaries on its own (spec §6: "packetize prepends a frame length for
// stream transports").
func Packetize(m ActionMessage) []byte {
	body := ToBytes(m)
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed, uint32(len(body)))
	copy(framed[4:], body)
	return framed
}

// Depacketize reads one framed message from r.
func Depacketize(r io.Reader) (ActionMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ActionMessage{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return ActionMessage{}, fmt.Errorf("action: reading framed body: %w", err)
	}
	return FromBytes(body)
}

// wireJSON is the JSON projection of an ActionMessage, used for query
// replies and log forwarding (spec §4.1: "a JSON form exists for logs and
// queries but is never used for value/message traffic"). Binary payload
// bytes are intentionally omitted — the JSON form is for humans and the
// query subsystem, not a second wire codec for message/value traffic.
type wireJSON struct {
	Action       MessageKind `json:"action"`
	MessageID    int32       `json:"message_id"`
	SourceID     int64       `json:"source_id"`
	SourceHandle int32       `json:"source_handle"`
	DestID       int64       `json:"dest_id"`
	DestHandle   int32       `json:"dest_handle"`
	Counter      uint16      `json:"counter"`
	Flags        uint16      `json:"flags"`
	SequenceID   uint32      `json:"sequence_id"`
	ActionTime   float64     `json:"action_time"`
	Te           float64     `json:"te"`
	Tdemin       float64     `json:"tdemin"`
	Tso          float64     `json:"tso"`
	StringData   []string    `json:"string_data,omitempty"`
}

// ToJSON renders m's non-payload fields as JSON, matching the teacher's
// goccy/go-json-based JToString helper.
func ToJSON(m ActionMessage) ([]byte, error) {
	w := wireJSON{
		Action: m.Action, MessageID: m.MessageID,
		SourceID: int64(m.SourceID), SourceHandle: int32(m.SourceHandle),
		DestID: int64(m.DestID), DestHandle: int32(m.DestHandle),
		Counter: m.Counter, Flags: uint16(m.Flags), SequenceID: m.SequenceID,
		ActionTime: float64(m.ActionTime), Te: float64(m.Te),
		Tdemin: float64(m.Tdemin), Tso: float64(m.Tso),
		StringData: m.StringData,
	}
	return json.Marshal(w)
}

// FromJSON parses the JSON form produced by ToJSON. Payload is always empty
// on the result, matching ToJSON's omission of it.
func FromJSON(data []byte) (ActionMessage, error) {
	var w wireJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return ActionMessage{}, err
	}
	return ActionMessage{
		Action: w.Action, MessageID: w.MessageID,
		SourceID: ids.GlobalFederateID(w.SourceID), SourceHandle: ids.InterfaceHandle(w.SourceHandle),
		DestID: ids.GlobalFederateID(w.DestID), DestHandle: ids.InterfaceHandle(w.DestHandle),
		Counter: w.Counter, Flags: Flags(w.Flags), SequenceID: w.SequenceID,
		ActionTime: simtime.Time(w.ActionTime), Te: simtime.Time(w.Te),
		Tdemin: simtime.Time(w.Tdemin), Tso: simtime.Time(w.Tso),
		StringData: w.StringData,
		RouteHint:  ids.InvalidRouteID,
	}, nil
}

func writeI16(buf *bytes.Buffer, v int16) { writeU16(buf, uint16(v)) }
func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	byteOrder.PutUint16(b[:], v)
	buf.Write(b[:])
}
func writeI32(buf *bytes.Buffer, v int32) { writeU32(buf, uint32(v)) }
func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	byteOrder.PutUint32(b[:], v)
	buf.Write(b[:])
}
func writeI64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	byteOrder.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}
func writeF64(buf *bytes.Buffer, v float64) {
	writeI64(buf, int64(math.Float64bits(v)))
}

func readI16(r *bytes.Reader) (int16, error) {
	v, err := readU16(r)
	return int16(v), err
}
func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint16(b[:]), nil
}
func readI32(r *bytes.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}
func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(b[:]), nil
}
func readI64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(byteOrder.Uint64(b[:])), nil
}
func readF64(r *bytes.Reader) (float64, error) {
	v, err := readI64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}
