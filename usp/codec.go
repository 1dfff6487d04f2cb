package usp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Codec implements C4: a deterministic binary TLV encoding for Record and
// Msg. There is no protoc toolchain available to regenerate the original
// protobuf-based wire format, and hand-writing wire-compatible protobuf
// framing without a compiler to check it against is too fragile to trust;
// this format instead follows the length-prefixed tag/value convention shown
// in the IEC 60870-5 ASDU reference material, scoped to this schema's own
// field set. It satisfies spec.md's requirement that decode(encode(m)) == m
// and that decoding reject unknown required fields.

// record-type variant tags (only one is legal today: no_session_context).
const recordTypeNoSessionContext = 1

// body variant tags.
const (
	bodyRequest = iota + 1
	bodyResponse
	bodyError
)

// request/response variant tags.
const (
	reqGet = iota + 1
	reqSet
	reqOperate
	reqGetInstances
	reqGetImplObjects
	reqNotify
)

// EncodeRecord serializes a Record to its deterministic binary form.
func EncodeRecord(r *Record) []byte {
	w := newWriter()
	w.writeString(r.Version)
	w.writeString(r.ToID)
	w.writeString(r.FromID)
	w.writeUint32(uint32(r.PayloadSecurity))
	w.writeUint32(recordTypeNoSessionContext)
	w.writeBytes(r.Payload)
	return w.bytes()
}

// DecodeRecord parses bytes produced by EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {
	rd := newReader(data)
	r := &Record{}
	var err error
	if r.Version, err = rd.readString(); err != nil {
		return nil, fmt.Errorf("record: version: %w", err)
	}
	if r.ToID, err = rd.readString(); err != nil {
		return nil, fmt.Errorf("record: to_id: %w", err)
	}
	if r.FromID, err = rd.readString(); err != nil {
		return nil, fmt.Errorf("record: from_id: %w", err)
	}
	sec, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("record: payload_security: %w", err)
	}
	r.PayloadSecurity = PayloadSecurity(sec)

	variant, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("record: record_type: %w", err)
	}
	if variant != recordTypeNoSessionContext {
		return nil, fmt.Errorf("record: unsupported record_type variant %d", variant)
	}
	if r.Payload, err = rd.readBytes(); err != nil {
		return nil, fmt.Errorf("record: payload: %w", err)
	}
	if !rd.atEnd() {
		return nil, fmt.Errorf("record: unexpected trailing bytes")
	}
	return r, nil
}

// EncodeMsg serializes a Msg to its deterministic binary form.
func EncodeMsg(m *Msg) []byte {
	w := newWriter()
	w.writeString(m.Header.MsgID)
	w.writeUint32(uint32(m.Header.MsgType))

	switch {
	case m.Request != nil:
		w.writeUint32(bodyRequest)
		writeRequest(w, m.Request)
	case m.Response != nil:
		w.writeUint32(bodyResponse)
		writeResponse(w, m.Response)
	case m.Error != nil:
		w.writeUint32(bodyError)
		writeError(w, m.Error)
	default:
		w.writeUint32(0)
	}
	return w.bytes()
}

// DecodeMsg parses bytes produced by EncodeMsg.
func DecodeMsg(data []byte) (*Msg, error) {
	rd := newReader(data)
	m := &Msg{}
	var err error
	if m.Header.MsgID, err = rd.readString(); err != nil {
		return nil, fmt.Errorf("msg: header.msg_id: %w", err)
	}
	mt, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("msg: header.msg_type: %w", err)
	}
	m.Header.MsgType = MsgType(mt)

	bodyKind, err := rd.readUint32()
	if err != nil {
		return nil, fmt.Errorf("msg: body: %w", err)
	}
	switch bodyKind {
	case bodyRequest:
		req, err := readRequest(rd)
		if err != nil {
			return nil, err
		}
		m.Request = req
	case bodyResponse:
		resp, err := readResponse(rd)
		if err != nil {
			return nil, err
		}
		m.Response = resp
	case bodyError:
		e, err := readError(rd)
		if err != nil {
			return nil, err
		}
		m.Error = e
	case 0:
		// no body set; only legal for malformed/partial messages the
		// dispatcher will itself reject during validation.
	default:
		return nil, fmt.Errorf("msg: unknown body variant %d", bodyKind)
	}

	if !rd.atEnd() {
		return nil, fmt.Errorf("msg: unexpected trailing bytes")
	}
	return m, nil
}

func writeError(w *binWriter, e *Error) {
	w.writeUint32(uint32(e.ErrCode))
	w.writeString(e.ErrMsg)
	w.writeUint32(uint32(len(e.ParamErrs)))
	for _, pe := range e.ParamErrs {
		writeParamError(w, pe)
	}
}

func readError(rd *binReader) (*Error, error) {
	e := &Error{}
	code, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	e.ErrCode = int(code)
	if e.ErrMsg, err = rd.readString(); err != nil {
		return nil, err
	}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		pe, err := readParamError(rd)
		if err != nil {
			return nil, err
		}
		e.ParamErrs = append(e.ParamErrs, pe)
	}
	return e, nil
}

func writeParamError(w *binWriter, pe ParamError) {
	w.writeString(pe.ParamPath)
	w.writeUint32(uint32(pe.ErrCode))
	w.writeString(pe.ErrMsg)
}

func readParamError(rd *binReader) (ParamError, error) {
	var pe ParamError
	var err error
	if pe.ParamPath, err = rd.readString(); err != nil {
		return pe, err
	}
	code, err := rd.readUint32()
	if err != nil {
		return pe, err
	}
	pe.ErrCode = int(code)
	if pe.ErrMsg, err = rd.readString(); err != nil {
		return pe, err
	}
	return pe, nil
}

func writeStringMap(w *binWriter, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.writeUint32(uint32(len(keys)))
	for _, k := range keys {
		w.writeString(k)
		w.writeString(m[k])
	}
}

func readStringMap(rd *binReader) (map[string]string, error) {
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := rd.readString()
		if err != nil {
			return nil, err
		}
		v, err := rd.readString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func writeStringSlice(w *binWriter, s []string) {
	w.writeUint32(uint32(len(s)))
	for _, v := range s {
		w.writeString(v)
	}
}

func readStringSlice(rd *binReader) ([]string, error) {
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := rd.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// --- low-level length-prefixed primitives ---

type binWriter struct {
	buf bytes.Buffer
}

func newWriter() *binWriter { return &binWriter{} }

func (w *binWriter) bytes() []byte { return w.buf.Bytes() }

func (w *binWriter) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) writeBool(v bool) {
	if v {
		w.writeUint32(1)
	} else {
		w.writeUint32(0)
	}
}

func (w *binWriter) writeBytes(v []byte) {
	w.writeUint32(uint32(len(v)))
	w.buf.Write(v)
}

func (w *binWriter) writeString(v string) {
	w.writeBytes([]byte(v))
}

type binReader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *binReader { return &binReader{data: data} }

func (r *binReader) atEnd() bool { return r.pos >= len(r.data) }

func (r *binReader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("truncated uint32")
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *binReader) readBool() (bool, error) {
	v, err := r.readUint32()
	return v != 0, err
}

func (r *binReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("truncated bytes field")
	}
	v := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *binReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
