package usp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arris-iot/usp-agent/datamodel"
)

func newDispatcherFixture(t *testing.T) (*Dispatcher, *datamodel.Store) {
	t.Helper()
	dir := t.TempDir()

	dmFile := filepath.Join(dir, "test-dm.json")
	dmData, err := json.Marshal(map[string]string{
		"Device.DeviceInfo.SerialNumber":       "readOnly",
		"Device.DeviceInfo.ProductClass":       "readOnly",
		"Device.LocalAgent.EndpointID":         "readOnly",
		"Device.LocalAgent.PeriodicInterval":   "readWrite",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dmFile, dmData, 0644))

	schema, err := datamodel.LoadSchema(dmFile)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "test.db")
	dbData, err := json.Marshal(map[string]string{
		"Device.DeviceInfo.SerialNumber":     "SN-001",
		"Device.DeviceInfo.ProductClass":     "RPi_Camera",
		"Device.LocalAgent.EndpointID":       "os::agent-1",
		"Device.LocalAgent.PeriodicInterval": "30",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dbFile, dbData, 0644))

	store, err := datamodel.NewStore(schema, dbFile, "lo")
	require.NoError(t, err)

	resolver := datamodel.NewResolver(store)
	return NewDispatcher("os::agent-1", store, resolver, nil), store
}

func wrapAndHandle(t *testing.T, d *Dispatcher, msg *Msg) *Msg {
	t.Helper()
	rec := &Record{Version: "1.0", ToID: "os::agent-1", FromID: "proto::controller-1", Payload: EncodeMsg(msg)}
	respBytes, err := d.Handle(EncodeRecord(rec))
	require.NoError(t, err)
	resp, err := DecodeRecord(respBytes)
	require.NoError(t, err)
	respMsg, err := DecodeMsg(resp.Payload)
	require.NoError(t, err)
	return respMsg
}

func TestDispatcherGetExactPath(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	req := &Msg{
		Header:  Header{MsgID: "1", MsgType: MsgTypeGet},
		Request: &Request{Get: &GetRequest{ParamPaths: []string{"Device.DeviceInfo.SerialNumber"}}},
	}
	resp := wrapAndHandle(t, d, req)

	require.NotNil(t, resp.Response)
	require.NotNil(t, resp.Response.GetResp)
	require.Len(t, resp.Response.GetResp.ReqPathResults, 1)
	pr := resp.Response.GetResp.ReqPathResults[0]
	require.Len(t, pr.ResolvedPathResults, 1)
	assert.Equal(t, "SN-001", pr.ResolvedPathResults[0].ResultParams["SerialNumber"])
}

func TestDispatcherGetInvalidPath(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	req := &Msg{
		Header:  Header{MsgID: "2", MsgType: MsgTypeGet},
		Request: &Request{Get: &GetRequest{ParamPaths: []string{"Device.NotARealPath."}}},
	}
	resp := wrapAndHandle(t, d, req)

	require.Len(t, resp.Response.GetResp.ReqPathResults, 1)
	assert.Equal(t, ErrCodeInvalidPath, resp.Response.GetResp.ReqPathResults[0].ErrCode)
}

func TestDispatcherSetWritableParam(t *testing.T) {
	d, store := newDispatcherFixture(t)

	req := &Msg{
		Header: Header{MsgID: "3", MsgType: MsgTypeSet},
		Request: &Request{Set: &SetRequest{
			AllowPartial: false,
			UpdateObjs: []UpdateObject{{
				ObjPath:       "Device.LocalAgent.",
				ParamSettings: []ParamSetting{{Param: "PeriodicInterval", Value: "60", Required: true}},
			}},
		}},
	}
	resp := wrapAndHandle(t, d, req)

	require.NotNil(t, resp.Response)
	require.NotNil(t, resp.Response.SetResp)
	require.Len(t, resp.Response.SetResp.UpdatedObjResults, 1)
	assert.NotNil(t, resp.Response.SetResp.UpdatedObjResults[0].OperSuccess)

	val, err := store.Get("Device.LocalAgent.PeriodicInterval")
	require.NoError(t, err)
	assert.Equal(t, "60", val)
}

func TestDispatcherSetReadOnlyParamFails(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	req := &Msg{
		Header: Header{MsgID: "4", MsgType: MsgTypeSet},
		Request: &Request{Set: &SetRequest{
			AllowPartial: false,
			UpdateObjs: []UpdateObject{{
				ObjPath:       "Device.DeviceInfo.",
				ParamSettings: []ParamSetting{{Param: "SerialNumber", Value: "SN-999", Required: true}},
			}},
		}},
	}
	resp := wrapAndHandle(t, d, req)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGeneric, resp.Error.ErrCode)
}

func TestDispatcherRejectsWrongToID(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	msg := &Msg{Header: Header{MsgID: "5", MsgType: MsgTypeGet}, Request: &Request{Get: &GetRequest{ParamPaths: []string{"Device.DeviceInfo.SerialNumber"}}}}
	rec := &Record{Version: "1.0", ToID: "os::someone-else", FromID: "proto::controller-1", Payload: EncodeMsg(msg)}

	_, err := d.Handle(EncodeRecord(rec))
	assert.Error(t, err)
}
