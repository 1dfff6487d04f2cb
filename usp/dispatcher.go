package usp

import (
	"fmt"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/datamodel"
)

// Service is the narrow interface a per-product-class hardware collaborator
// implements to handle Operate commands (spec.md 6: "a single operation
// invoke() -> map<string,string>").
type Service interface {
	Invoke(command string, inputArgs map[string]string) (map[string]string, error)
}

// Dispatcher is the request dispatcher (C5): validates an incoming
// Record+Msg, routes by message type, and produces a response Record.
type Dispatcher struct {
	endpointID string
	store      *datamodel.Store
	resolver   *datamodel.Resolver
	services   map[string]Service // keyed by Device.DeviceInfo.ProductClass
}

// NewDispatcher builds a Dispatcher for endpointID.
func NewDispatcher(endpointID string, store *datamodel.Store, resolver *datamodel.Resolver, services map[string]Service) *Dispatcher {
	return &Dispatcher{endpointID: endpointID, store: store, resolver: resolver, services: services}
}

// Handle validates and processes raw incoming bytes (a serialized Record),
// returning the serialized response Record. It never panics or returns a Go
// error for anything other than the small set of envelope-validation
// failures the caller (the binding listener) must turn into a transport
// level rejection; everything else is folded into a well-formed
// Msg.body.error, per spec.md 4.4.4.
func (d *Dispatcher) Handle(payload []byte) ([]byte, error) {
	reqRecord, err := DecodeRecord(payload)
	if err != nil {
		return nil, &ProtocolViolationError{Msg: fmt.Sprintf("failed to decode Record: %v", err)}
	}
	if err := d.validateRecord(reqRecord); err != nil {
		return nil, &ProtocolViolationError{Msg: err.Error()}
	}

	reqMsg, err := DecodeMsg(reqRecord.Payload)
	if err != nil {
		return nil, &ProtocolViolationError{Msg: fmt.Sprintf("failed to decode Msg: %v", err)}
	}
	if err := validateMsg(reqMsg); err != nil {
		return nil, &ProtocolViolationError{Msg: err.Error()}
	}

	log.Infof("dispatcher: received a [%s] request from %s", requestKindOf(reqMsg), reqRecord.FromID)

	respMsg := d.process(reqMsg)
	respRecord := &Record{
		Version:         "1.0",
		ToID:            reqRecord.FromID,
		FromID:          d.endpointID,
		PayloadSecurity: PayloadSecurityPlaintext,
		Payload:         EncodeMsg(respMsg),
	}
	return EncodeRecord(respRecord), nil
}

func (d *Dispatcher) validateRecord(r *Record) error {
	if r.Version == "" {
		return &ProtocolValidationError{Msg: "USP Record missing version"}
	}
	if r.ToID == "" {
		return &ProtocolValidationError{Msg: "USP Record missing to_id"}
	}
	if r.ToID != d.endpointID {
		return &ProtocolValidationError{Msg: "USP Record has incorrect to_id"}
	}
	if r.FromID == "" {
		return &ProtocolValidationError{Msg: "Header missing from_id"}
	}
	if r.PayloadSecurity != PayloadSecurityPlaintext {
		return &ProtocolValidationError{Msg: "USP Record has unsupported Payload Security"}
	}
	return nil
}

func validateMsg(m *Msg) error {
	if m.Header.MsgID == "" {
		return &ProtocolValidationError{Msg: "USP Message Header missing msg_id"}
	}
	if m.Request == nil {
		return &ProtocolValidationError{Msg: "USP Message Body doesn't contain a Request element"}
	}
	return nil
}

func requestKindOf(m *Msg) string {
	switch {
	case m.Request.Get != nil:
		return "Get"
	case m.Request.Set != nil:
		return "Set"
	case m.Request.Operate != nil:
		return "Operate"
	case m.Request.GetInstances != nil:
		return "GetInstances"
	case m.Request.GetImplObjects != nil:
		return "GetImplObjects"
	default:
		return "Unknown"
	}
}

func (d *Dispatcher) process(req *Msg) *Msg {
	switch {
	case req.Header.MsgType == MsgTypeGet && req.Request.Get != nil:
		return d.processGet(req)
	case req.Header.MsgType == MsgTypeSet && req.Request.Set != nil:
		return d.processSet(req)
	case req.Header.MsgType == MsgTypeOperate && req.Request.Operate != nil:
		return d.processOperate(req)
	case req.Header.MsgType == MsgTypeGetInstances && req.Request.GetInstances != nil:
		return d.processGetInstances(req)
	case req.Header.MsgType == MsgTypeGetImplObjects && req.Request.GetImplObjects != nil:
		return d.processGetImplObjects(req)
	default:
		return NewError(req.Header.MsgID, ErrCodeGeneric,
			"Message Failure: Request body does not match Header msg_type")
	}
}

// splitPath mirrors the original _split_path: a path ending in "." is
// already a partial path; otherwise the last segment is a parameter name.
func splitPath(path string) (partial string, paramName string, hasParam bool) {
	if len(path) == 0 || path[len(path)-1] == '.' {
		return path, "", false
	}
	idx := lastDot(path)
	if idx < 0 {
		return path, path, true
	}
	return path[:idx+1], path[idx+1:], true
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// diffPath strips negativePath's shared prefix from fullPath, returning the
// remainder (e.g. negative="Device.Controller." full="Device.Controller.1.Enable" -> "1.Enable").
func diffPath(negativePath, fullPath string) string {
	negParts := splitDots(negativePath)
	fullParts := splitDots(fullPath)
	idx := 0
	for idx < len(negParts) && idx < len(fullParts) && negParts[idx] == fullParts[idx] {
		idx++
	}
	out := ""
	for ; idx < len(fullParts); idx++ {
		out += fullParts[idx]
		if idx+1 < len(fullParts) {
			out += "."
		}
	}
	return out
}

func splitDots(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func (d *Dispatcher) processGet(req *Msg) *Msg {
	resp := &Msg{Header: Header{MsgID: req.Header.MsgID, MsgType: MsgTypeGetResp}}
	getResp := &GetResponse{}

	for _, reqPath := range req.Request.Get.ParamPaths {
		pathResult := RequestedPathResult{RequestedPath: reqPath}

		partial, paramName, hasParam := splitPath(reqPath)
		affected, err := d.resolver.AffectedPathsForGet(partial)
		if err != nil {
			pathResult.ErrCode = ErrCodeInvalidPath
			pathResult.ErrMsg = "Invalid Path: " + reqPath + " is not a part of the supported data model"
			getResp.ReqPathResults = append(getResp.ReqPathResults, pathResult)
			continue
		}

		for _, affectedPath := range affected {
			resolved := ResolvedPathResult{ResolvedPath: affectedPath, ResultParams: map[string]string{}}

			if !hasParam {
				items, err := d.resolver.FindParams(affectedPath)
				if err != nil {
					continue
				}
				for _, item := range items {
					relParam := diffPath(affectedPath, item)
					val, err := d.store.Get(item)
					if err == nil {
						resolved.ResultParams[relParam] = val
					}
				}
			} else {
				full := affectedPath + paramName
				val, err := d.store.Get(full)
				if err == nil {
					resolved.ResultParams[paramName] = val
				}
			}
			pathResult.ResolvedPathResults = append(pathResult.ResolvedPathResults, resolved)
		}

		getResp.ReqPathResults = append(getResp.ReqPathResults, pathResult)
	}

	resp.Response = &Response{GetResp: getResp}
	return resp
}

func (d *Dispatcher) processSet(req *Msg) *Msg {
	resp := &Msg{Header: Header{MsgID: req.Header.MsgID, MsgType: MsgTypeSetResp}}

	pathsToSet := map[string]string{}
	var updateObjResults []UpdatedObjectResult
	var setFailureParamErrs []ParamError

	allowPartial := req.Request.Set.AllowPartial

	for _, obj := range req.Request.Set.UpdateObjs {
		d.validateSetObject(obj, allowPartial, pathsToSet, &updateObjResults, &setFailureParamErrs)
	}

	if len(setFailureParamErrs) > 0 {
		errMsg := NewError(req.Header.MsgID, ErrCodeGeneric,
			"Invalid Path Found, Allow Partial Updates = False :: Fail the entire Set")
		errMsg.Error.ParamErrs = setFailureParamErrs
		return errMsg
	}

	if err := d.store.UpdateAll(pathsToSet); err != nil {
		return NewError(req.Header.MsgID, ErrCodeGeneric, fmt.Sprintf("Set Failure: %v", err))
	}

	resp.Response = &Response{SetResp: &SetResponse{UpdatedObjResults: updateObjResults}}
	return resp
}

func (d *Dispatcher) validateSetObject(obj UpdateObject, allowPartial bool, pathsToSet map[string]string,
	updateObjResults *[]UpdatedObjectResult, setFailureParamErrs *[]ParamError) {

	affected, err := d.resolver.AffectedPathsForSet(obj.ObjPath)
	if err != nil {
		sv := &SetValidationError{ErrCode: ErrCodeGeneric, ErrMsg: "Invalid obj_path encountered - " + obj.ObjPath}
		d.handleSetValidationErr(obj.ObjPath, allowPartial, sv, updateObjResults, setFailureParamErrs)
		return
	}

	var updateInstResults []UpdatedInstanceResult
	objPathFailures := map[string][]ParamError{}

	for _, affectedPath := range affected {
		failures, instResult := d.validateSetParams(affectedPath, obj, pathsToSet)
		if len(failures) > 0 {
			objPathFailures[affectedPath] = failures
		}
		updateInstResults = append(updateInstResults, instResult)
	}

	if len(objPathFailures) == 0 {
		*updateObjResults = append(*updateObjResults, UpdatedObjectResult{
			RequestedPath: obj.ObjPath,
			OperSuccess:   &OperSuccess{UpdatedInstResults: updateInstResults},
		})
		return
	}

	d.handleSetParamErrors(obj.ObjPath, allowPartial, objPathFailures, updateObjResults, setFailureParamErrs)
}

func (d *Dispatcher) validateSetParams(affectedPath string, obj UpdateObject, pathsToSet map[string]string) ([]ParamError, UpdatedInstanceResult) {
	instResult := UpdatedInstanceResult{AffectedPath: affectedPath, UpdatedParams: map[string]string{}}
	var setFailures []ParamError

	for _, setting := range obj.ParamSettings {
		paramPath := affectedPath + setting.Param
		writable, err := d.store.IsWritable(paramPath)

		var failErr error
		failed := false
		if err != nil {
			failed = true
			failErr = err
		} else if !writable {
			failed = true
			failErr = &datamodel.NotWritableError{Path: paramPath}
		} else {
			curr, getErr := d.store.Get(paramPath)
			if getErr != nil || curr != setting.Value {
				pathsToSet[paramPath] = setting.Value
			}
			instResult.UpdatedParams[setting.Param] = setting.Value
		}

		if failed {
			pe := ParamError{ParamPath: setting.Param, ErrCode: ErrCodeGeneric, ErrMsg: failErr.Error()}
			if setting.Required {
				setFailures = append(setFailures, pe)
			} else {
				instResult.ParamErrs = append(instResult.ParamErrs, pe)
			}
		}
	}

	return setFailures, instResult
}

func (d *Dispatcher) handleSetParamErrors(objPath string, allowPartial bool, failures map[string][]ParamError,
	updateObjResults *[]UpdatedObjectResult, setFailureParamErrs *[]ParamError) {

	if allowPartial {
		var instFailures []UpdatedInstanceFailure
		for affectedPath, errs := range failures {
			instFailures = append(instFailures, UpdatedInstanceFailure{AffectedPath: affectedPath, ParamErrs: errs})
		}
		*updateObjResults = append(*updateObjResults, UpdatedObjectResult{
			RequestedPath: objPath,
			OperFailure: &OperFailure{
				ErrCode:             ErrCodeGeneric,
				ErrMsg:              "Failed to Set Required Parameters",
				UpdatedInstFailures: instFailures,
			},
		})
		return
	}

	for affectedPath, errs := range failures {
		for _, pe := range errs {
			*setFailureParamErrs = append(*setFailureParamErrs, ParamError{
				ParamPath: affectedPath + pe.ParamPath,
				ErrCode:   pe.ErrCode,
				ErrMsg:    pe.ErrMsg,
			})
		}
	}
}

func (d *Dispatcher) handleSetValidationErr(objPath string, allowPartial bool, svErr *SetValidationError,
	updateObjResults *[]UpdatedObjectResult, setFailureParamErrs *[]ParamError) {

	if allowPartial {
		*updateObjResults = append(*updateObjResults, UpdatedObjectResult{
			RequestedPath: objPath,
			OperFailure:   &OperFailure{ErrCode: svErr.ErrCode, ErrMsg: svErr.ErrMsg},
		})
		return
	}

	*setFailureParamErrs = append(*setFailureParamErrs, ParamError{
		ParamPath: objPath,
		ErrCode:   svErr.ErrCode,
		ErrMsg:    svErr.ErrMsg,
	})
}

// TakePictureCameraOp names the camera's hard-coded TakePicture() Operate
// command. processOperate does not match on it: every command is passed to
// the Service registered for the product class, and the camera Service is
// the one that recognizes this command.
const TakePictureCameraOp = "Device.Services.HomeAutomation.1.Camera.1.TakePicture()"

func (d *Dispatcher) processOperate(req *Msg) *Msg {
	command := req.Request.Operate.Command

	productClass, err := d.store.Get("Device.DeviceInfo.ProductClass")
	if err != nil {
		return NewError(req.Header.MsgID, ErrCodeGeneric, "Operate Failure: product class is not set")
	}

	svc, ok := d.services[productClass]
	if !ok {
		return NewError(req.Header.MsgID, ErrCodeGeneric,
			fmt.Sprintf("Operate Failure: unknown product class - %s", productClass))
	}

	outArgs, err := svc.Invoke(command, req.Request.Operate.InputArgs)
	if err != nil {
		return NewError(req.Header.MsgID, ErrCodeGeneric, fmt.Sprintf("Operate Failure: invalid command - %s", command))
	}

	resp := &Msg{Header: Header{MsgID: req.Header.MsgID, MsgType: MsgTypeOperateResp}}
	resp.Response = &Response{OperateResp: &OperateResponse{
		OperationResults: []OperationResult{{ExecutedCommand: command, OutputArgs: outArgs}},
	}}
	return resp
}

func (d *Dispatcher) processGetInstances(req *Msg) *Msg {
	resp := &Msg{Header: Header{MsgID: req.Header.MsgID, MsgType: MsgTypeGetInstancesResp}}
	out := &GetInstancesResponse{}

	for _, objPath := range req.Request.GetInstances.ObjPaths {
		result := InstancesResult{RequestedPath: objPath}
		instances, err := d.resolver.FindInstances(objPath)
		if err != nil {
			result.InvalidPath = true
		} else {
			result.CurrInstances = instances
		}
		out.ReqPathResults = append(out.ReqPathResults, result)
	}

	resp.Response = &Response{GetInstancesResp: out}
	return resp
}

func (d *Dispatcher) processGetImplObjects(req *Msg) *Msg {
	resp := &Msg{Header: Header{MsgID: req.Header.MsgID, MsgType: MsgTypeGetImplObjectsResp}}
	out := &GetImplObjectsResponse{}

	for _, objPath := range req.Request.GetImplObjects.ObjPaths {
		result := ImplObjectsResult{RequestedPath: objPath}
		objs, err := d.resolver.FindImplObjects(objPath, req.Request.GetImplObjects.NextLevel)
		if err != nil {
			result.InvalidPath = true
		} else {
			result.CurrImplObjects = objs
		}
		out.ReqPathResults = append(out.ReqPathResults, result)
	}

	resp.Response = &Response{GetImplObjectsResp: out}
	return resp
}
