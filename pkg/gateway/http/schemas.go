package http

// ErrorResponse is the JSON body returned for any failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DomainStatus is one domain's health, spec §5 "wc_state".
type DomainStatus struct {
	Number                 int    `json:"number"`
	WorkingCounter          uint32 `json:"working_counter"`
	ExpectedWorkingCounter uint32 `json:"expected_working_counter"`
	State                  string `json:"state"`
	Pairs                  int    `json:"pairs"`
}

// SlaveStatus is one slave's identity and current request-FSM state.
type SlaveStatus struct {
	StationAddress uint16 `json:"station_address"`
	ALState        string `json:"al_state"`
	FSMState       string `json:"fsm_state"`
}

// SDORequest is the JSON body for POST /slaves/{address}/sdo.
type SDORequest struct {
	Index     uint16 `json:"index"`
	Subindex  uint8  `json:"subindex"`
	Direction string `json:"direction"` // "upload" or "download"
	Length    int    `json:"length,omitempty"`   // upload: destination buffer size
	DataHex   string `json:"data_hex,omitempty"` // download: payload, hex-encoded
}

// SDOResponse is the JSON body returned for a completed SDO request.
type SDOResponse struct {
	Success   bool   `json:"success"`
	DataHex   string `json:"data_hex,omitempty"`
	AbortCode uint32 `json:"abort_code,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
