package http

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/samsamfire/goethercat/pkg/slavefsm"
)

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains := s.master.Domains()
	out := make([]DomainStatus, 0, len(domains))
	for _, dom := range domains {
		out = append(out, domainStatus(dom))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request, numberStr string) {
	number, err := strconv.Atoi(numberStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid domain number")
		return
	}
	for _, dom := range s.master.Domains() {
		if dom.Number == number {
			s.writeJSON(w, http.StatusOK, domainStatus(dom))
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "domain not found")
}

func (s *Server) handleListSlaves(w http.ResponseWriter, r *http.Request) {
	slaves := s.master.Slaves()
	out := make([]SlaveStatus, 0, len(slaves))
	for _, sl := range slaves {
		fsm, _ := s.master.FSM(sl.StationAddress)
		out = append(out, slaveStatus(sl, fsm))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSlave(w http.ResponseWriter, r *http.Request, addressStr string) {
	addr, err := parseStationAddress(addressStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid station address")
		return
	}
	sl, ok := s.master.Slave(addr)
	if !ok {
		s.writeError(w, http.StatusNotFound, "slave not found")
		return
	}
	fsm, _ := s.master.FSM(addr)
	s.writeJSON(w, http.StatusOK, slaveStatus(sl, fsm))
}

// handleSubmitSDO submits an SDO request to the slave's request FSM and
// blocks for its terminal completion, mirroring the teacher's gateway
// handlers, which block on the SDO client's synchronous ReadRaw/WriteRaw
// before writing a response.
func (s *Server) handleSubmitSDO(w http.ResponseWriter, r *http.Request, addressStr string) {
	addr, err := parseStationAddress(addressStr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid station address")
		return
	}
	sl, ok := s.master.Slave(addr)
	if !ok {
		s.writeError(w, http.StatusNotFound, "slave not found")
		return
	}

	var body SDORequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var req *request.SDO
	switch body.Direction {
	case "upload":
		length := body.Length
		if length == 0 {
			length = 4
		}
		req = request.NewSDO(body.Index, body.Subindex, request.Upload, make([]byte, length))
	case "download":
		data, err := hex.DecodeString(body.DataHex)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "data_hex is not valid hex")
			return
		}
		req = request.NewSDO(body.Index, body.Subindex, request.Download, data)
	default:
		s.writeError(w, http.StatusBadRequest, "direction must be \"upload\" or \"download\"")
		return
	}

	sl.SubmitSDO(req)

	select {
	case <-req.Done():
	case <-time.After(5 * time.Second):
		s.writeError(w, http.StatusGatewayTimeout, "sdo request did not complete")
		return
	}

	resp := SDOResponse{Success: req.State() == request.Success, AbortCode: req.AbortCode, Reason: req.Reason()}
	if resp.Success && body.Direction == "upload" {
		resp.DataHex = hex.EncodeToString(req.Data)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func domainStatus(dom *domain.Domain) DomainStatus {
	wc, expected, state := dom.State()
	return DomainStatus{
		Number:                 dom.Number,
		WorkingCounter:         wc,
		ExpectedWorkingCounter: expected,
		State:                  state.String(),
		Pairs:                  len(dom.Pairs()),
	}
}

func slaveStatus(sl *slave.Slave, fsm *slavefsm.FSM) SlaveStatus {
	status := SlaveStatus{StationAddress: sl.StationAddress, ALState: sl.ALState().String()}
	if fsm != nil {
		status.FSMState = fsm.State().String()
	}
	return status
}

// parseStationAddress accepts both "0x1001" and plain-decimal forms.
func parseStationAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}
