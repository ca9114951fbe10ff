// Command ecat_client builds a master with one slave, submits one SDO
// request to it and prints the result, mirroring cmd/sdo_client/main.go:
// flag-parsed connection arguments, one synchronous request, print and
// exit. Talks to the virtual (TCP-loopback) driver rather than raw
// sockets, since that's what can be exercised without root or real
// hardware, the same tradeoff the teacher's sdo_client makes by
// defaulting to "vcan0".
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/request"
	"github.com/samsamfire/goethercat/pkg/slave"
)

func main() {
	mainAddr := flag.String("i", "127.0.0.1:5000", "main link broker address")
	backupAddr := flag.String("backup", "", "backup link broker address, empty to disable redundancy")
	station := flag.Uint("station", 0x1001, "slave station address")
	index := flag.Uint("index", 0x6000, "SDO object index")
	subindex := flag.Uint("subindex", 0, "SDO object subindex")
	download := flag.String("download", "", "hex payload to download; if empty, performs an upload")
	length := flag.Int("length", 4, "upload destination buffer size")
	timeout := flag.Duration("timeout", 5*time.Second, "time to wait for the request to complete")
	flag.Parse()

	m := master.New(virtual.New(*mainAddr, *backupAddr, nil), time.Millisecond, nil)
	if err := m.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "connecting: %v\n", err)
		os.Exit(1)
	}
	defer m.Disconnect()

	s := slave.New(uint16(*station), ecat.DeviceMain)
	s.SetALState(slave.Op)
	fsm := m.AddSlave(s, nil)
	fsm.Ready()

	var req *request.SDO
	if *download == "" {
		req = request.NewSDO(uint16(*index), uint8(*subindex), request.Upload, make([]byte, *length))
	} else {
		data, err := hex.DecodeString(*download)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -download hex payload: %v\n", err)
			os.Exit(1)
		}
		req = request.NewSDO(uint16(*index), uint8(*subindex), request.Download, data)
	}
	s.SubmitSDO(req)

	m.Start(context.Background())
	defer func() {
		m.Stop()
		m.Wait()
	}()

	select {
	case <-req.Done():
	case <-time.After(*timeout):
		fmt.Fprintln(os.Stderr, "request timed out")
		os.Exit(1)
	}

	if req.State() != request.Success {
		fmt.Fprintf(os.Stderr, "request failed: %s (abort code 0x%08x)\n", req.Reason(), req.AbortCode)
		os.Exit(1)
	}
	if *download == "" {
		fmt.Println(hex.EncodeToString(req.Data))
	} else {
		fmt.Println("ok")
	}
}
