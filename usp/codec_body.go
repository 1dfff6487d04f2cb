package usp

import "fmt"

func writeRequest(w *binWriter, req *Request) {
	switch {
	case req.Get != nil:
		w.writeUint32(reqGet)
		writeStringSlice(w, req.Get.ParamPaths)
	case req.Set != nil:
		w.writeUint32(reqSet)
		writeSetRequest(w, req.Set)
	case req.Operate != nil:
		w.writeUint32(reqOperate)
		writeOperateRequest(w, req.Operate)
	case req.GetInstances != nil:
		w.writeUint32(reqGetInstances)
		writeStringSlice(w, req.GetInstances.ObjPaths)
	case req.GetImplObjects != nil:
		w.writeUint32(reqGetImplObjects)
		writeStringSlice(w, req.GetImplObjects.ObjPaths)
		w.writeBool(req.GetImplObjects.NextLevel)
	case req.Notify != nil:
		w.writeUint32(reqNotify)
		writeNotifyRequest(w, req.Notify)
	default:
		w.writeUint32(0)
	}
}

func readRequest(rd *binReader) (*Request, error) {
	kind, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	req := &Request{}
	switch kind {
	case reqGet:
		paths, err := readStringSlice(rd)
		if err != nil {
			return nil, err
		}
		req.Get = &GetRequest{ParamPaths: paths}
	case reqSet:
		set, err := readSetRequest(rd)
		if err != nil {
			return nil, err
		}
		req.Set = set
	case reqOperate:
		op, err := readOperateRequest(rd)
		if err != nil {
			return nil, err
		}
		req.Operate = op
	case reqGetInstances:
		paths, err := readStringSlice(rd)
		if err != nil {
			return nil, err
		}
		req.GetInstances = &GetInstancesRequest{ObjPaths: paths}
	case reqGetImplObjects:
		paths, err := readStringSlice(rd)
		if err != nil {
			return nil, err
		}
		nextLevel, err := rd.readBool()
		if err != nil {
			return nil, err
		}
		req.GetImplObjects = &GetImplObjectsRequest{ObjPaths: paths, NextLevel: nextLevel}
	case reqNotify:
		notif, err := readNotifyRequest(rd)
		if err != nil {
			return nil, err
		}
		req.Notify = notif
	case 0:
		return nil, fmt.Errorf("msg: request body missing req_type variant")
	default:
		return nil, fmt.Errorf("msg: unknown request variant %d", kind)
	}
	return req, nil
}

func writeSetRequest(w *binWriter, s *SetRequest) {
	w.writeBool(s.AllowPartial)
	w.writeUint32(uint32(len(s.UpdateObjs)))
	for _, obj := range s.UpdateObjs {
		w.writeString(obj.ObjPath)
		w.writeUint32(uint32(len(obj.ParamSettings)))
		for _, ps := range obj.ParamSettings {
			w.writeString(ps.Param)
			w.writeString(ps.Value)
			w.writeBool(ps.Required)
		}
	}
}

func readSetRequest(rd *binReader) (*SetRequest, error) {
	s := &SetRequest{}
	var err error
	if s.AllowPartial, err = rd.readBool(); err != nil {
		return nil, err
	}
	numObjs, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numObjs; i++ {
		var obj UpdateObject
		if obj.ObjPath, err = rd.readString(); err != nil {
			return nil, err
		}
		numParams, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < numParams; j++ {
			var ps ParamSetting
			if ps.Param, err = rd.readString(); err != nil {
				return nil, err
			}
			if ps.Value, err = rd.readString(); err != nil {
				return nil, err
			}
			if ps.Required, err = rd.readBool(); err != nil {
				return nil, err
			}
			obj.ParamSettings = append(obj.ParamSettings, ps)
		}
		s.UpdateObjs = append(s.UpdateObjs, obj)
	}
	return s, nil
}

func writeOperateRequest(w *binWriter, o *OperateRequest) {
	w.writeString(o.Command)
	w.writeString(o.CommandKey)
	writeStringMap(w, o.InputArgs)
}

func readOperateRequest(rd *binReader) (*OperateRequest, error) {
	o := &OperateRequest{}
	var err error
	if o.Command, err = rd.readString(); err != nil {
		return nil, err
	}
	if o.CommandKey, err = rd.readString(); err != nil {
		return nil, err
	}
	if o.InputArgs, err = readStringMap(rd); err != nil {
		return nil, err
	}
	return o, nil
}

func writeNotifyRequest(w *binWriter, n *NotifyRequest) {
	w.writeString(n.SubscriptionID)
	w.writeBool(n.SendResp)
	switch {
	case n.Event != nil:
		w.writeUint32(1)
		w.writeString(n.Event.ObjPath)
		w.writeString(n.Event.EventName)
		writeStringMap(w, n.Event.ParamMap)
	case n.ValueChange != nil:
		w.writeUint32(2)
		w.writeString(n.ValueChange.ParamPath)
		w.writeString(n.ValueChange.ParamValue)
	default:
		w.writeUint32(0)
	}
}

func readNotifyRequest(rd *binReader) (*NotifyRequest, error) {
	n := &NotifyRequest{}
	var err error
	if n.SubscriptionID, err = rd.readString(); err != nil {
		return nil, err
	}
	if n.SendResp, err = rd.readBool(); err != nil {
		return nil, err
	}
	kind, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	switch kind {
	case 1:
		ev := &EventNotification{}
		if ev.ObjPath, err = rd.readString(); err != nil {
			return nil, err
		}
		if ev.EventName, err = rd.readString(); err != nil {
			return nil, err
		}
		if ev.ParamMap, err = readStringMap(rd); err != nil {
			return nil, err
		}
		n.Event = ev
	case 2:
		vc := &ValueChangeNotification{}
		if vc.ParamPath, err = rd.readString(); err != nil {
			return nil, err
		}
		if vc.ParamValue, err = rd.readString(); err != nil {
			return nil, err
		}
		n.ValueChange = vc
	}
	return n, nil
}

func writeResponse(w *binWriter, resp *Response) {
	switch {
	case resp.GetResp != nil:
		w.writeUint32(reqGet)
		writeGetResponse(w, resp.GetResp)
	case resp.SetResp != nil:
		w.writeUint32(reqSet)
		writeSetResponse(w, resp.SetResp)
	case resp.OperateResp != nil:
		w.writeUint32(reqOperate)
		writeOperateResponse(w, resp.OperateResp)
	case resp.GetInstancesResp != nil:
		w.writeUint32(reqGetInstances)
		writeGetInstancesResponse(w, resp.GetInstancesResp)
	case resp.GetImplObjectsResp != nil:
		w.writeUint32(reqGetImplObjects)
		writeGetImplObjectsResponse(w, resp.GetImplObjectsResp)
	default:
		w.writeUint32(0)
	}
}

func readResponse(rd *binReader) (*Response, error) {
	kind, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	resp := &Response{}
	switch kind {
	case reqGet:
		r, err := readGetResponse(rd)
		if err != nil {
			return nil, err
		}
		resp.GetResp = r
	case reqSet:
		r, err := readSetResponse(rd)
		if err != nil {
			return nil, err
		}
		resp.SetResp = r
	case reqOperate:
		r, err := readOperateResponse(rd)
		if err != nil {
			return nil, err
		}
		resp.OperateResp = r
	case reqGetInstances:
		r, err := readGetInstancesResponse(rd)
		if err != nil {
			return nil, err
		}
		resp.GetInstancesResp = r
	case reqGetImplObjects:
		r, err := readGetImplObjectsResponse(rd)
		if err != nil {
			return nil, err
		}
		resp.GetImplObjectsResp = r
	case 0:
		return nil, fmt.Errorf("msg: response body missing response variant")
	default:
		return nil, fmt.Errorf("msg: unknown response variant %d", kind)
	}
	return resp, nil
}

func writeGetResponse(w *binWriter, g *GetResponse) {
	w.writeUint32(uint32(len(g.ReqPathResults)))
	for _, pr := range g.ReqPathResults {
		w.writeString(pr.RequestedPath)
		w.writeUint32(uint32(pr.ErrCode))
		w.writeString(pr.ErrMsg)
		w.writeUint32(uint32(len(pr.ResolvedPathResults)))
		for _, rpr := range pr.ResolvedPathResults {
			w.writeString(rpr.ResolvedPath)
			writeStringMap(w, rpr.ResultParams)
		}
	}
}

func readGetResponse(rd *binReader) (*GetResponse, error) {
	g := &GetResponse{}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var pr RequestedPathResult
		if pr.RequestedPath, err = rd.readString(); err != nil {
			return nil, err
		}
		code, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		pr.ErrCode = int(code)
		if pr.ErrMsg, err = rd.readString(); err != nil {
			return nil, err
		}
		numResolved, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < numResolved; j++ {
			var rpr ResolvedPathResult
			if rpr.ResolvedPath, err = rd.readString(); err != nil {
				return nil, err
			}
			if rpr.ResultParams, err = readStringMap(rd); err != nil {
				return nil, err
			}
			pr.ResolvedPathResults = append(pr.ResolvedPathResults, rpr)
		}
		g.ReqPathResults = append(g.ReqPathResults, pr)
	}
	return g, nil
}

func writeSetResponse(w *binWriter, s *SetResponse) {
	w.writeUint32(uint32(len(s.UpdatedObjResults)))
	for _, uor := range s.UpdatedObjResults {
		w.writeString(uor.RequestedPath)
		if uor.OperSuccess != nil {
			w.writeUint32(1)
			w.writeUint32(uint32(len(uor.OperSuccess.UpdatedInstResults)))
			for _, uir := range uor.OperSuccess.UpdatedInstResults {
				w.writeString(uir.AffectedPath)
				writeStringMap(w, uir.UpdatedParams)
				w.writeUint32(uint32(len(uir.ParamErrs)))
				for _, pe := range uir.ParamErrs {
					writeParamError(w, pe)
				}
			}
		} else if uor.OperFailure != nil {
			w.writeUint32(2)
			w.writeUint32(uint32(uor.OperFailure.ErrCode))
			w.writeString(uor.OperFailure.ErrMsg)
			w.writeUint32(uint32(len(uor.OperFailure.UpdatedInstFailures)))
			for _, f := range uor.OperFailure.UpdatedInstFailures {
				w.writeString(f.AffectedPath)
				w.writeUint32(uint32(len(f.ParamErrs)))
				for _, pe := range f.ParamErrs {
					writeParamError(w, pe)
				}
			}
		} else {
			w.writeUint32(0)
		}
	}
}

func readSetResponse(rd *binReader) (*SetResponse, error) {
	s := &SetResponse{}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var uor UpdatedObjectResult
		if uor.RequestedPath, err = rd.readString(); err != nil {
			return nil, err
		}
		kind, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		switch kind {
		case 1:
			os := &OperSuccess{}
			numInst, err := rd.readUint32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < numInst; j++ {
				var uir UpdatedInstanceResult
				if uir.AffectedPath, err = rd.readString(); err != nil {
					return nil, err
				}
				if uir.UpdatedParams, err = readStringMap(rd); err != nil {
					return nil, err
				}
				numErrs, err := rd.readUint32()
				if err != nil {
					return nil, err
				}
				for k := uint32(0); k < numErrs; k++ {
					pe, err := readParamError(rd)
					if err != nil {
						return nil, err
					}
					uir.ParamErrs = append(uir.ParamErrs, pe)
				}
				os.UpdatedInstResults = append(os.UpdatedInstResults, uir)
			}
			uor.OperSuccess = os
		case 2:
			of := &OperFailure{}
			code, err := rd.readUint32()
			if err != nil {
				return nil, err
			}
			of.ErrCode = int(code)
			if of.ErrMsg, err = rd.readString(); err != nil {
				return nil, err
			}
			numFail, err := rd.readUint32()
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < numFail; j++ {
				var f UpdatedInstanceFailure
				if f.AffectedPath, err = rd.readString(); err != nil {
					return nil, err
				}
				numErrs, err := rd.readUint32()
				if err != nil {
					return nil, err
				}
				for k := uint32(0); k < numErrs; k++ {
					pe, err := readParamError(rd)
					if err != nil {
						return nil, err
					}
					f.ParamErrs = append(f.ParamErrs, pe)
				}
				of.UpdatedInstFailures = append(of.UpdatedInstFailures, f)
			}
			uor.OperFailure = of
		}
		s.UpdatedObjResults = append(s.UpdatedObjResults, uor)
	}
	return s, nil
}

func writeOperateResponse(w *binWriter, o *OperateResponse) {
	w.writeUint32(uint32(len(o.OperationResults)))
	for _, or := range o.OperationResults {
		w.writeString(or.ExecutedCommand)
		writeStringMap(w, or.OutputArgs)
		w.writeUint32(uint32(or.ErrCode))
		w.writeString(or.ErrMsg)
	}
}

func readOperateResponse(rd *binReader) (*OperateResponse, error) {
	o := &OperateResponse{}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var or OperationResult
		if or.ExecutedCommand, err = rd.readString(); err != nil {
			return nil, err
		}
		if or.OutputArgs, err = readStringMap(rd); err != nil {
			return nil, err
		}
		code, err := rd.readUint32()
		if err != nil {
			return nil, err
		}
		or.ErrCode = int(code)
		if or.ErrMsg, err = rd.readString(); err != nil {
			return nil, err
		}
		o.OperationResults = append(o.OperationResults, or)
	}
	return o, nil
}

func writeGetInstancesResponse(w *binWriter, g *GetInstancesResponse) {
	w.writeUint32(uint32(len(g.ReqPathResults)))
	for _, r := range g.ReqPathResults {
		w.writeString(r.RequestedPath)
		w.writeBool(r.InvalidPath)
		writeStringSlice(w, r.CurrInstances)
	}
}

func readGetInstancesResponse(rd *binReader) (*GetInstancesResponse, error) {
	g := &GetInstancesResponse{}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var r InstancesResult
		if r.RequestedPath, err = rd.readString(); err != nil {
			return nil, err
		}
		if r.InvalidPath, err = rd.readBool(); err != nil {
			return nil, err
		}
		if r.CurrInstances, err = readStringSlice(rd); err != nil {
			return nil, err
		}
		g.ReqPathResults = append(g.ReqPathResults, r)
	}
	return g, nil
}

func writeGetImplObjectsResponse(w *binWriter, g *GetImplObjectsResponse) {
	w.writeUint32(uint32(len(g.ReqPathResults)))
	for _, r := range g.ReqPathResults {
		w.writeString(r.RequestedPath)
		w.writeBool(r.InvalidPath)
		writeStringSlice(w, r.CurrImplObjects)
	}
}

func readGetImplObjectsResponse(rd *binReader) (*GetImplObjectsResponse, error) {
	g := &GetImplObjectsResponse{}
	n, err := rd.readUint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var r ImplObjectsResult
		if r.RequestedPath, err = rd.readString(); err != nil {
			return nil, err
		}
		if r.InvalidPath, err = rd.readBool(); err != nil {
			return nil, err
		}
		if r.CurrImplObjects, err = readStringSlice(rd); err != nil {
			return nil, err
		}
		g.ReqPathResults = append(g.ReqPathResults, r)
	}
	return g, nil
}
