package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSDOLifecycle(t *testing.T) {
	r := NewSDO(0x6040, 0, Download, []byte{0x01})
	assert.Equal(t, Queued, r.State())
	r.SetBusy()
	assert.Equal(t, Busy, r.State())

	select {
	case <-r.Done():
		t.Fatal("request terminated early")
	default:
	}

	r.Terminate(Success, "")
	assert.Equal(t, Success, r.State())
	<-r.Done() // must not block

	// Terminating twice must not panic or re-close the channel.
	assert.NotPanics(t, func() { r.Terminate(Failure, "late") })
	assert.Equal(t, Success, r.State())
}

func TestRegisterRequeue(t *testing.T) {
	r := NewRegister(0x0130, RegisterOutput, []byte{0x04, 0x00})
	r.Internal = true
	r.SetBusy()
	r.Terminate(Failure, "wc mismatch")
	assert.True(t, r.State().Terminal())

	r.Requeue()
	assert.Equal(t, Queued, r.State())
	select {
	case <-r.Done():
		t.Fatal("requeued request should not already be done")
	default:
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "SDO", ClassSDO.String())
	assert.Equal(t, "REG", ClassRegister.String())
	assert.Equal(t, "FOE", ClassFoE.String())
	assert.Equal(t, "SOE", ClassSoE.String())
}
