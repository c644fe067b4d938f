// Command comoexport runs the EXPORT process from spec.md §4.1/§4.3: it
// receives CAPTURE's window flushes, folds them into per-module ETables,
// sorts/acts, and commits the resulting records to STORAGE.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package main

import (
	"flag"
	"net"
	"time"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/export"
	"github.com/como-project/como/ipc"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/modules/protocol"
	"github.com/como-project/como/modules/tuple"
	"github.com/como-project/como/storage"
)

func main() {
	cfgFile := flag.String("c", "", "path to node environment YAML")
	flushIvlFlag := flag.Duration("flush-ivl", time.Second, "default module flush interval")
	flag.Parse()

	env := &cmn.Env{
		CaptureSock: "/tmp/como-export.sock", // the listen side of the socket comocapture dials
		StorageSock: "/tmp/como-storage.sock",
		MemSizeMB:   64,
		FileSize:    256 << 20,
	}
	if *cfgFile != "" {
		loaded, err := cmn.LoadEnv(*cfgFile)
		if err != nil {
			cmn.Fatalf("comoexport: load env: %v", err)
		}
		env = loaded
	}

	reg := module.NewRegistry()
	reg.Add(tuple.New(*flushIvlFlag))
	reg.Add(protocol.NewBuilder(*flushIvlFlag))

	pool := memsys.NewPrivate(int64(env.MemSizeMB) << 20)

	pipelines := make(map[string]*export.Pipeline, len(reg.Names()))
	for _, name := range reg.Names() {
		mod, err := reg.Build(name, module.RoleExport)
		if err != nil {
			cmn.Fatalf("comoexport: build module %s: %v", name, err)
		}
		ops, err := mod.AsExport()
		if err != nil {
			cmn.Fatalf("comoexport: module %s: %v", name, err)
		}

		sink, err := dialStorageSink(env.StorageSock, "default", mod.Def.Output, env.FileSize)
		if err != nil {
			cmn.Fatalf("comoexport: dial storage for module %s: %v", name, err)
		}
		pipelines[name] = export.NewPipeline(mod.Def, ops, pool, sink)
	}

	tuplesByModule := make(map[string]module.Factory, len(reg.Names()))
	for _, name := range reg.Names() {
		mod, err := reg.Build(name, module.RoleExport)
		if err == nil {
			tuplesByModule[name] = mod.Def.NewTuple
		}
	}

	lis, err := net.Listen("unix", env.CaptureSock)
	if err != nil {
		cmn.Fatalf("comoexport: listen %s: %v", env.CaptureSock, err)
	}
	defer lis.Close()
	cmn.Infof("comoexport: listening for capture on %s", env.CaptureSock)

	for {
		conn, err := lis.Accept()
		if err != nil {
			cmn.LogErrorf("comoexport: accept: %v", err)
			return
		}
		go serveCapturePeer(conn, pipelines, tuplesByModule)
	}
}

func dialStorageSink(storageSock, node, outputName string, streamSize int64) (export.RecordSink, error) {
	conn, err := net.Dial("unix", storageSock)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "dial storage")
	}
	rc, err := storage.DialOpen(conn, node+"/"+outputName, storage.ModeWriter, streamSize)
	if err != nil {
		return nil, err
	}
	return storage.RemoteSink{RC: rc}, nil
}

func serveCapturePeer(conn net.Conn, pipelines map[string]*export.Pipeline, factories map[string]module.Factory) {
	defer conn.Close()
	self := ipc.SenderID{Class: ipc.ClassExport}
	peer, err := ipc.Handshake(conn, self, true)
	if err != nil {
		cmn.LogErrorf("comoexport: handshake: %v", err)
		return
	}

	registry := ipc.NewRegistry()
	loop := ipc.NewLoop(registry)
	loop.Register(ipc.MsgFlush, func(p *ipc.Peer, f *ipc.Frame) ipc.Outcome {
		name, rest, derr := capture.DecodeFlushEnvelope(f.Data)
		if derr != nil {
			cmn.LogErrorf("comoexport: decode flush envelope: %v", derr)
			return ipc.OutcomeErr
		}
		fresh, ok := factories[name]
		if !ok {
			cmn.LogErrorf("comoexport: flush for unknown module %s", name)
			return ipc.OutcomeErr
		}
		window, tuples, derr := capture.DecodeFlush(rest, fresh)
		if derr != nil {
			cmn.LogErrorf("comoexport: decode flush for %s: %v", name, derr)
			return ipc.OutcomeErr
		}
		pipe, ok := pipelines[name]
		if !ok {
			return ipc.OutcomeErr
		}
		if err := pipe.OnFlush(window, tuples); err != nil {
			cmn.LogErrorf("comoexport: fold flush for %s: %v", name, err)
			return ipc.OutcomeErr
		}
		return ipc.OutcomeOk
	})
	loop.AddPeer(peer)
	stop := make(chan struct{})
	loop.Run(stop)
}
