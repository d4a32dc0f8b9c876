package comm

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"southwinds.dev/citadel"
)

// peerHeader carries the caller's peer ID on every inbound request.
const peerHeader = "X-Citadel-Peer"

type handlerFunc func(Request) Response

// router mounts the invoke endpoint. All operations travel through the one
// endpoint as tagged envelopes; the firewall is consulted per request kind.
func (n *Node) router() chi.Router {
	handlers := n.handlerRegistry()

	r := chi.NewRouter()
	r.Post("/v1/invoke", func(w http.ResponseWriter, req *http.Request) {
		peer := req.Header.Get(peerHeader)
		if peer == "" {
			writeResponse(w, Response{OK: false, ErrorKind: "permission_denied", Error: "missing peer identity"})
			return
		}

		var envelope Request
		if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
			writeResponse(w, Response{OK: false, ErrorKind: "internal", Error: "malformed request envelope"})
			return
		}

		perm, known := kindPermissions[envelope.Kind]
		handle, registered := handlers[envelope.Kind]
		if !known || !registered {
			writeResponse(w, Response{ID: envelope.ID, OK: false, ErrorKind: "internal", Error: "unknown request kind"})
			return
		}

		if !n.firewall.Check(peer, perm) {
			_ = n.audit.Log("firewall_reject", false, map[string]interface{}{
				"peer_id": peer, "permission": perm.String(),
			})
			writeResponse(w, failure(envelope.ID, citadel.ErrPermissionDenied))
			return
		}

		response := handle(envelope)
		_ = n.audit.Log("remote_"+string(envelope.Kind), response.OK, map[string]interface{}{
			"peer_id": peer, "snapshot_path": envelope.Path,
		})
		writeResponse(w, response)
	})
	return r
}

// handlerRegistry binds each request kind to its engine operation.
func (n *Node) handlerRegistry() map[RequestKind]handlerFunc {
	return map[RequestKind]handlerFunc{
		KindCheckVault: func(req Request) Response {
			exists, err := n.engine.ContainsVault(req.Path, req.Vault)
			if err != nil {
				return failure(req.ID, err)
			}
			return Response{ID: req.ID, OK: true, Exists: exists}
		},
		KindCheckRecord: func(req Request) Response {
			exists, err := n.engine.ContainsRecord(req.Path, req.Vault, requestLocation(req))
			if err != nil {
				return failure(req.ID, err)
			}
			return Response{ID: req.ID, OK: true, Exists: exists}
		},
		KindWriteToVault: func(req Request) Response {
			err := n.engine.SaveRecord(req.Path, req.Vault, requestLocation(req), req.Record, hintFromBytes(req.Hint))
			return result(req.ID, err)
		},
		KindRevokeData: func(req Request) Response {
			return result(req.ID, n.engine.RemoveRecord(req.Path, req.Vault, requestLocation(req), req.Collect))
		},
		KindGarbageCollect: func(req Request) Response {
			return result(req.ID, n.engine.GarbageCollect(req.Path, req.Vault))
		},
		KindListIds: func(req Request) Response {
			infos, err := n.engine.ListRecords(req.Path, req.Vault)
			if err != nil {
				return failure(req.ID, err)
			}
			records := make([]recordInfoDTO, 0, len(infos))
			for _, info := range infos {
				records = append(records, recordInfoDTO{
					Location: toLocationDTO(info.Location),
					Hint:     hintBytes(info.Hint),
				})
			}
			return Response{ID: req.ID, OK: true, Records: records}
		},
		KindCreateNewVault: func(req Request) Response {
			return result(req.ID, n.engine.CreateVault(req.Path, req.Vault))
		},
		KindReadFromStore: func(req Request) Response {
			record, err := n.engine.GetStoreRecord(req.Path, req.Store, requestLocation(req))
			if err != nil {
				return failure(req.ID, err)
			}
			return Response{ID: req.ID, OK: true, Record: record}
		},
		KindWriteToStore: func(req Request) Response {
			err := n.engine.SaveStoreRecord(req.Path, req.Store, requestLocation(req), req.Record, req.Lifetime)
			return result(req.ID, err)
		},
		KindDeleteFromStore: func(req Request) Response {
			return result(req.ID, n.engine.RemoveStoreRecord(req.Path, req.Store, requestLocation(req)))
		},
		KindProcedure: func(req Request) Response {
			if req.Procedure == nil {
				return Response{ID: req.ID, OK: false, ErrorKind: "internal", Error: "missing procedure"}
			}
			procedure, err := fromProcedureDTO(*req.Procedure)
			if err != nil {
				return failure(req.ID, err)
			}
			output, err := n.engine.Execute(req.Path, req.Vault, procedure)
			if err != nil {
				return failure(req.ID, err)
			}
			return Response{ID: req.ID, OK: true, Output: &output}
		},
		KindReadSnapshot: func(req Request) Response {
			status := n.engine.Status(req.Path)
			return Response{ID: req.ID, OK: true, Status: &status}
		},
		KindWriteSnapshot: func(req Request) Response {
			return result(req.ID, n.engine.Save(req.Path))
		},
		KindClearCache: func(req Request) Response {
			return result(req.ID, n.engine.Lock(req.Path))
		},
	}
}

func requestLocation(req Request) citadel.Location {
	if req.Location == nil {
		return citadel.Location{}
	}
	return fromLocationDTO(*req.Location)
}

func result(id string, err error) Response {
	if err != nil {
		return failure(id, err)
	}
	return Response{ID: id, OK: true}
}

func failure(id string, err error) Response {
	return Response{
		ID:        id,
		OK:        false,
		ErrorKind: citadel.ErrorKind(err),
		Error:     err.Error(),
	}
}

func writeResponse(w http.ResponseWriter, response Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
