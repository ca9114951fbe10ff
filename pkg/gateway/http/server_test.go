package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *master.Master) {
	t.Helper()
	m := master.New(virtual.New("", "", nil), time.Millisecond, nil)

	dom := domain.New(0, nil)
	cfg := config.New(0x1001, 0xdead, 0xbeef)
	_, err := cfg.AddFMMUConfig(dom, domain.Output, 0x1000, 2)
	require.NoError(t, err)
	require.NoError(t, dom.Finish(0x10000))
	m.AddDomain(dom)

	sl := slave.New(0x1001, ecat.DeviceMain)
	sl.SetALState(slave.Op)
	fsm := m.AddSlave(sl, cfg)
	fsm.Ready()

	return New(m, nil), m
}

func TestHandleListDomains(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", "/domains", nil))

	require.Equal(t, 200, w.Code)
	var out []DomainStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 0, out[0].Number)
	assert.Equal(t, "ZERO", out[0].State)
}

func TestHandleGetDomainNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", "/domains/7", nil))
	assert.Equal(t, 404, w.Code)
}

func TestHandleListSlaves(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", "/slaves", nil))

	require.Equal(t, 200, w.Code)
	var out []SlaveStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, uint16(0x1001), out[0].StationAddress)
	assert.Equal(t, "OP", out[0].ALState)
	assert.Equal(t, "READY", out[0].FSMState)
}

func TestHandleGetSlaveByHexAddress(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", "/slaves/0x1001", nil))

	require.Equal(t, 200, w.Code)
	var out SlaveStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, uint16(0x1001), out.StationAddress)
}

func TestHandleGetSlaveNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, httptest.NewRequest("GET", "/slaves/0x9999", nil))
	assert.Equal(t, 404, w.Code)
}

func TestHandleSubmitSDOBadDirection(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SDORequest{Index: 0x6000, Subindex: 1, Direction: "sideways"})
	req := httptest.NewRequest("POST", "/slaves/0x1001/sdo", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}

func TestHandleSubmitSDOUnknownSlave(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SDORequest{Index: 0x6000, Subindex: 1, Direction: "upload"})
	req := httptest.NewRequest("POST", "/slaves/0x9999/sdo", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	assert.Equal(t, 404, w.Code)
}
