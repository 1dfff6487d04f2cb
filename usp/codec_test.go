package usp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		Version:         "1.0",
		ToID:            "proto::controller-1",
		FromID:          "os::agent-1",
		PayloadSecurity: PayloadSecurityPlaintext,
		Payload:         []byte("inner-msg-bytes"),
	}

	decoded, err := DecodeRecord(EncodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestRecordDecodeRejectsTrailingBytes(t *testing.T) {
	rec := &Record{Version: "1.0", ToID: "a", FromID: "b", Payload: []byte("x")}
	data := append(EncodeRecord(rec), 0xFF)
	_, err := DecodeRecord(data)
	assert.Error(t, err)
}

func TestMsgRoundTripGetRequest(t *testing.T) {
	msg := &Msg{
		Header: Header{MsgID: "42", MsgType: MsgTypeGet},
		Request: &Request{
			Get: &GetRequest{ParamPaths: []string{"Device.DeviceInfo.", "Device.LocalAgent.EndpointID"}},
		},
	}

	decoded, err := DecodeMsg(EncodeMsg(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMsgRoundTripGetResponse(t *testing.T) {
	msg := &Msg{
		Header: Header{MsgID: "7", MsgType: MsgTypeGetResp},
		Response: &Response{
			GetResp: &GetResponse{
				ReqPathResults: []RequestedPathResult{
					{
						RequestedPath: "Device.DeviceInfo.",
						ResolvedPathResults: []ResolvedPathResult{
							{ResolvedPath: "Device.DeviceInfo.", ResultParams: map[string]string{"SerialNumber": "abc123"}},
						},
					},
				},
			},
		},
	}

	decoded, err := DecodeMsg(EncodeMsg(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMsgRoundTripError(t *testing.T) {
	msg := NewError("99", ErrCodeInvalidPath, "Invalid Path: Device.Foo. is not part of the supported data model")
	msg.Error.ParamErrs = []ParamError{{ParamPath: "Device.Foo.Bar", ErrCode: ErrCodeGeneric, ErrMsg: "bad"}}

	decoded, err := DecodeMsg(EncodeMsg(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestMsgDecodeRejectsUnknownBodyVariant(t *testing.T) {
	w := newWriter()
	w.writeString("1")
	w.writeUint32(uint32(MsgTypeGet))
	w.writeUint32(42) // not a recognized body variant
	_, err := DecodeMsg(w.bytes())
	assert.Error(t, err)
}
