// Command comosupervisor runs the SUPERVISOR process from spec.md §4.6:
// it forks CAPTURE/EXPORT/STORAGE, runs the resource scheduler, answers
// config reloads, and embeds the QUERY HTTP listener (SPEC_FULL.md §2
// NEW: QUERY is goroutines inside this process, not its own binary).
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/module"
	"github.com/como-project/como/modules/protocol"
	"github.com/como-project/como/modules/tuple"
	"github.com/como-project/como/query"
	"github.com/como-project/como/storage"
	"github.com/como-project/como/supervisor"
)

func main() {
	cfgFile := flag.String("c", "", "path to node environment YAML")
	captureBin := flag.String("capture-bin", "comocapture", "path to the comocapture binary")
	exportBin := flag.String("export-bin", "comoexport", "path to the comoexport binary")
	storageBin := flag.String("storage-bin", "comostorage", "path to the comostorage binary")
	snifferFlag := flag.String("s", "file,/dev/null", "sniffer,dev[,args] passed through to comocapture")
	flushIvlFlag := flag.Duration("flush-ivl", time.Second, "default module flush interval")
	signingKeyFlag := flag.String("auth-key", "", "optional HMAC key requiring a bearer token on query requests")
	flag.Parse()

	env := &cmn.Env{
		QueryPort:      12345,
		MemSizeMB:      64,
		FileSize:       256 << 20,
		DBPath:         "/tmp/como-db",
		SupervisorSock: "/tmp/como-supervisor.sock",
		CaptureSock:    "/tmp/como-export.sock",
		ExportSock:     "/tmp/como-export.sock",
		StorageSock:    "/tmp/como-storage.sock",
	}
	if *cfgFile != "" {
		loaded, err := cmn.LoadEnv(*cfgFile)
		if err != nil {
			cmn.Fatalf("comosupervisor: load env: %v", err)
		}
		env = loaded
	}

	reg := module.NewRegistry()
	reg.Add(tuple.New(*flushIvlFlag))
	reg.Add(protocol.NewBuilder(*flushIvlFlag))

	metrics := supervisor.NewMetrics(prometheus.DefaultRegisterer)
	sched := supervisor.NewScheduler(2)
	metrics.Observe(sched)
	for _, name := range reg.Names() {
		mod, err := reg.Build(name, module.RoleSupervisor)
		if err != nil {
			cmn.Fatalf("comosupervisor: build module %s: %v", name, err)
		}
		sched.AddModule(name, mod.Def.Priority)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	procs := supervisor.NewProcessSet(ctx)
	if err := procs.Spawn(*storageBin, "-c", *cfgFile); err != nil {
		cmn.Fatalf("comosupervisor: spawn storage: %v", err)
	}
	if err := procs.Spawn(*exportBin, "-c", *cfgFile, "-flush-ivl", flushIvlFlag.String()); err != nil {
		cmn.Fatalf("comosupervisor: spawn export: %v", err)
	}
	if err := procs.Spawn(*captureBin, "-c", *cfgFile, "-s", *snifferFlag, "-flush-ivl", flushIvlFlag.String()); err != nil {
		cmn.Fatalf("comosupervisor: spawn capture: %v", err)
	}
	cmn.Infof("comosupervisor: forked %d peer process(es)", procs.Running())

	runScheduler(ctx, sched, env)

	storageSrc := storage.RemoteSource{Dial: func() (net.Conn, error) {
		return net.Dial("unix", env.StorageSock)
	}}

	activeFn := func() []string {
		names := reg.Names()
		out := make([]string, 0, len(names))
		for _, n := range names {
			if !sched.IsDisabled(n) {
				out = append(out, n)
			}
		}
		return out
	}

	qs := &query.Server{
		Node:      "default",
		Modules:   query.RegistryAdapter{Registry: reg},
		Storage:   storageSrc,
		Filter:    query.NewEqualityEvaluator(),
		StreamCap: env.FileSize,
		Active:    activeFn,
	}
	if *signingKeyFlag != "" {
		qs.SigningKey = []byte(*signingKeyFlag)
	}

	addr := ":" + strconv.Itoa(env.QueryPort)
	if err := query.ListenAndServe(addr, qs); err != nil {
		cmn.Fatalf("comosupervisor: query listener: %v", err)
	}

	if err := procs.Wait(); err != nil {
		cmn.LogErrorf("comosupervisor: peer process exited: %v", err)
	}
}

// runScheduler starts the Tick-cadence resource scheduler loop in the
// background. The shared-pool resource is not attached to any pool and
// always reports zero usage (see sharedPoolResource and DESIGN.md).
func runScheduler(ctx context.Context, sched *supervisor.Scheduler, env *cmn.Env) {
	resources := []supervisor.Resource{
		sharedPoolResource(env),
	}
	if diskRes, ok := diskResourceIfAvailable(env); ok {
		resources = append(resources, diskRes)
	}
	if k8sRes, ok := supervisor.MaybeK8sResource("", 0); ok {
		resources = append(resources, k8sRes)
	}
	sched.SetResources(resources)

	go func() {
		ticker := time.NewTicker(supervisor.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sched.Tick()
			}
		}
	}()
}

func sharedPoolResource(env *cmn.Env) supervisor.Resource {
	return supervisor.Resource{
		Name: "shared-pool",
		UsageFraction: func() float64 {
			return 0 // populated once a shared pool handle is wired; see DESIGN.md
		},
	}
}

func diskResourceIfAvailable(env *cmn.Env) (supervisor.Resource, bool) {
	return supervisor.DiskResource("storage-disk-writes", nil, uint64(env.FileSize)), true
}
