package usp

// Boot-time parameters reported in BootParameterMap (C6; grounded on
// original_source/agent/notify.py's hard-coded boot_param_list).
var BootParamPaths = []string{
	"Device.DeviceInfo.ManufacturerOUI",
	"Device.DeviceInfo.ProductClass",
	"Device.DeviceInfo.SerialNumber",
	"Device.LocalAgent.X_ARRIS-COM_IPAddr",
}

// ParamGetter is satisfied by datamodel.Store; kept narrow here because
// notifications only ever read, never write.
type ParamGetter interface {
	Get(path string) (string, error)
}

func initNotifMsg(fromID, toID, subscriptionID string) *Msg {
	return &Msg{
		Header: Header{MsgID: NewMessageID(), MsgType: MsgTypeNotify},
		Request: &Request{
			Notify: &NotifyRequest{
				SubscriptionID: subscriptionID,
				SendResp:       false,
			},
		},
	}
}

// BuildBootNotification builds the Boot notification Msg (C6), reading the
// fixed parameter list from db and rendering BootParameterMap as a JSON
// object literal, exactly as the original boot notification does.
func BuildBootNotification(fromID, toID, subscriptionID string, db ParamGetter) *Msg {
	msg := initNotifMsg(fromID, toID, subscriptionID)

	paramMap := map[string]string{
		"CommandKey": "",
		"Cause":      "LocalReboot",
	}
	paramMap["BootParameterMap"] = renderBootParameterMap(db)

	msg.Request.Notify.Event = &EventNotification{
		ObjPath:   "Device.LocalAgent.",
		EventName: "Boot!",
		ParamMap:  paramMap,
	}
	return msg
}

func renderBootParameterMap(db ParamGetter) string {
	out := "{"
	for i, path := range BootParamPaths {
		if i > 0 {
			out += ","
		}
		value, err := db.Get(path)
		out += "\"" + path + "\" : "
		if err == nil {
			out += "\"" + value + "\""
		} else {
			out += "\"\""
		}
	}
	out += "}"
	return out
}

// BuildPeriodicNotification builds the Periodic notification Msg (C6).
// objPath is the subscription's first reference path (spec.md 4.5).
func BuildPeriodicNotification(fromID, toID, subscriptionID, objPath string) *Msg {
	msg := initNotifMsg(fromID, toID, subscriptionID)
	msg.Request.Notify.Event = &EventNotification{
		ObjPath:   objPath,
		EventName: "Periodic!",
	}
	return msg
}

// BuildValueChangeNotification builds the ValueChange notification Msg (C6).
func BuildValueChangeNotification(fromID, toID, subscriptionID, param, value string) *Msg {
	msg := initNotifMsg(fromID, toID, subscriptionID)
	msg.Request.Notify.ValueChange = &ValueChangeNotification{
		ParamPath:  param,
		ParamValue: value,
	}
	return msg
}

// WrapInRecord wraps msg in a PLAINTEXT Record addressed from fromID to
// toID, as every notification and response must be (spec.md 4.3).
func WrapInRecord(fromID, toID string, msg *Msg) *Record {
	return &Record{
		Version:         "1.0",
		ToID:            toID,
		FromID:          fromID,
		PayloadSecurity: PayloadSecurityPlaintext,
		Payload:         EncodeMsg(msg),
	}
}
