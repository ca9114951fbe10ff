package slave

import (
	"testing"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/stretchr/testify/assert"
)

func TestALStateAckErr(t *testing.T) {
	s := Op | AckErr
	assert.True(t, s.HasAckErr())
	assert.Equal(t, Op, s.Base())
	assert.Equal(t, "OP+ACKERR", s.String())
}

func TestSlaveQueuesFIFO(t *testing.T) {
	sl := New(0x1001, ecat.DeviceMain)
	assert.Nil(t, sl.PeekSDO())

	r1 := request.NewSDO(0x6040, 0, request.Download, nil)
	r2 := request.NewSDO(0x6041, 0, request.Download, nil)
	sl.SubmitSDO(r1)
	sl.SubmitSDO(r2)

	assert.Same(t, r1, sl.PeekSDO())
	assert.Same(t, r1, sl.PopSDO())
	assert.Same(t, r2, sl.PopSDO())
	assert.Nil(t, sl.PopSDO())
}

func TestSlaveConfigTeardown(t *testing.T) {
	sl := New(0x1001, ecat.DeviceMain)
	assert.Nil(t, sl.Config())
	cfg := NewConfig()
	sl.SetConfig(cfg)
	assert.Same(t, cfg, sl.Config())
	sl.SetConfig(nil)
	assert.Nil(t, sl.Config())
}
