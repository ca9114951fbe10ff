// Command ecatmaster brings up an EtherCAT master from an ENI file and
// runs its cyclic task, mirroring cmd/canopen/main.go: flag-parsed
// interface/config arguments, construct the driver then the master, run
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	ecat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/domain"
	"github.com/samsamfire/goethercat/pkg/driver/rawsock"
	"github.com/samsamfire/goethercat/pkg/eni"
	gatewayhttp "github.com/samsamfire/goethercat/pkg/gateway/http"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/slave"
)

const defaultCyclePeriod = time.Millisecond

func main() {
	iface := flag.String("i", "eth0", "main link network interface")
	backupIface := flag.String("b", "", "backup link network interface, empty to disable redundancy")
	eniPath := flag.String("eni", "", "ENI configuration file path")
	httpAddr := flag.String("http", "", "introspection gateway listen address, empty to disable")
	flag.Parse()

	logger := slog.Default()

	if *eniPath == "" {
		fmt.Fprintln(os.Stderr, "missing -eni configuration file")
		os.Exit(1)
	}
	cfg, err := eni.Load(*eniPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading ENI file: %v\n", err)
		os.Exit(1)
	}

	driver := rawsock.New(*iface, *backupIface, logger)
	m := master.New(driver, defaultCyclePeriod, logger)
	if err := m.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "connecting driver: %v\n", err)
		os.Exit(1)
	}
	defer m.Disconnect()

	domains := map[int]*domain.Domain{}
	for _, se := range cfg.Slaves {
		dom, ok := domains[se.Domain]
		if !ok {
			dom = domain.New(se.Domain, logger)
			domains[se.Domain] = dom
		}

		sc := config.New(se.StationAddress, se.VendorID, se.ProductCode)
		for _, f := range se.FMMUs {
			if _, err := sc.AddFMMUConfig(dom, f.Direction, f.PhysicalStart, f.DataSize); err != nil {
				fmt.Fprintf(os.Stderr, "slave %04x: adding FMMU: %v\n", se.StationAddress, err)
				os.Exit(1)
			}
		}
		for _, p := range se.PDOs {
			sc.AddPDOEntry(p.Direction, p.Entry)
		}

		s := slave.New(se.StationAddress, ecat.DeviceMain)
		fsm := m.AddSlave(s, sc)
		fsm.Ready()
	}
	domainNumbers := make([]int, 0, len(domains))
	for n := range domains {
		domainNumbers = append(domainNumbers, n)
	}
	sort.Ints(domainNumbers)

	var base uint32
	for _, n := range domainNumbers {
		dom := domains[n]
		if err := dom.Finish(base); err != nil {
			fmt.Fprintf(os.Stderr, "domain %d: %v\n", dom.Number, err)
			os.Exit(1)
		}
		base += uint32(dom.DataSize())
		m.AddDomain(dom)
	}

	if *httpAddr != "" {
		gw := gatewayhttp.New(m, logger)
		go func() {
			if err := gw.ListenAndServe(*httpAddr); err != nil {
				logger.Error("introspection gateway exited", "err", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	m.Start(ctx)
	<-ctx.Done()
	m.Stop()
	m.Wait()
}
