// Command comocapture runs the CAPTURE process from spec.md §4.2: a
// sniffer-fed batch loop, per-module flow tables, and the flush handoff
// to EXPORT at each window boundary.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package main

import (
	"flag"
	"net"
	"strings"
	"time"

	"github.com/como-project/como/capture"
	"github.com/como-project/como/cmn"
	"github.com/como-project/como/ipc"
	"github.com/como-project/como/memsys"
	"github.com/como-project/como/module"
	"github.com/como-project/como/modules/protocol"
	"github.com/como-project/como/modules/tuple"
	"github.com/como-project/como/pkt"
)

func main() {
	cfgFile := flag.String("c", "", "path to node environment YAML")
	snifferFlag := flag.String("s", "", "sniffer,dev[,args]")
	flushIvlFlag := flag.Duration("flush-ivl", time.Second, "default module flush interval")
	flag.Parse()

	env := &cmn.Env{ExportSock: "/tmp/como-export.sock", MemSizeMB: 64}
	if *cfgFile != "" {
		loaded, err := cmn.LoadEnv(*cfgFile)
		if err != nil {
			cmn.Fatalf("comocapture: load env: %v", err)
		}
		env = loaded
	}

	reg := module.NewRegistry()
	reg.Add(tuple.New(*flushIvlFlag))
	reg.Add(protocol.NewBuilder(*flushIvlFlag))

	pool := memsys.NewPrivate(int64(env.MemSizeMB) << 20)

	conn, err := net.Dial("unix", env.ExportSock)
	if err != nil {
		cmn.Fatalf("comocapture: dial export at %s: %v", env.ExportSock, err)
	}
	self := ipc.SenderID{Class: ipc.ClassCapture}
	peer, err := ipc.Handshake(conn, self, true)
	if err != nil {
		cmn.Fatalf("comocapture: handshake with export: %v", err)
	}

	sniff := newFileSniffer()
	srcName := parseSnifferArg(*snifferFlag)
	if srcName == "" {
		cmn.Fatalf("comocapture: no sniffer source given (-s file,<path>)")
	}
	if _, err := sniff.Start(srcName); err != nil {
		cmn.Fatalf("comocapture: start sniffer: %v", err)
	}
	defer sniff.Stop()

	modCaptures := make(map[string]*capture.ModuleCapture, len(reg.Names()))
	for _, name := range reg.Names() {
		name := name
		mod, err := reg.Build(name, module.RoleCapture)
		if err != nil {
			cmn.Fatalf("comocapture: build module %s: %v", name, err)
		}
		arena := memsys.NewMemMap(pool, memsys.KindCaptureArena, name)
		mc, err := capture.NewModuleCapture(mod, arena, func(window capture.Window, tuples []module.Serializable) error {
			payload, eerr := capture.EncodeFlushEnvelope(name, window, tuples)
			if eerr != nil {
				return eerr
			}
			return peer.Send(&ipc.Frame{Type: ipc.MsgFlush, Sender: self, Data: payload})
		})
		if err != nil {
			cmn.Fatalf("comocapture: wire module %s: %v", name, err)
		}
		modCaptures[name] = mc
	}

	cmn.Infof("comocapture: running %d module(s) against %s", len(modCaptures), srcName)

	const batchSize = 256
	buf := make([]pkt.Packet, batchSize)
	for {
		n, rerr := sniff.Next(buf, batchSize)
		if rerr != nil {
			cmn.LogErrorf("comocapture: sniffer read: %v", rerr)
			return
		}
		if n == 0 {
			cmn.Infof("comocapture: sniffer source drained")
			return
		}
		batch := &pkt.Batch{Packets: buf[:n]}
		for name, mc := range modCaptures {
			if err := mc.ProcessBatch(batch); err != nil {
				cmn.LogErrorf("comocapture: module %s: %v", name, err)
			}
		}
	}
}

// parseSnifferArg extracts the device/path portion of "-s
// sniffer,dev[,args]" (spec.md §6). The sniffer name is not checked:
// whatever it says, the device part is opened by the built-in
// fileSniffer.
func parseSnifferArg(s string) string {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
