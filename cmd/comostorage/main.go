// Command comostorage runs the STORAGE process from spec.md §4.3: the
// single-writer/many-reader bytestream server, reachable by CAPTURE,
// EXPORT and QUERY over the storage RPC in storage/rpc.go once they run
// in separate OS processes (SPEC_FULL.md §2 NEW).
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package main

import (
	"flag"
	"net"
	"os"

	"github.com/como-project/como/cmn"
	"github.com/como-project/como/storage"
)

func main() {
	cfgFile := flag.String("c", "", "path to node environment YAML (-c cfg)")
	flag.Parse()

	env := &cmn.Env{StorageSock: "/tmp/como-storage.sock", DBPath: "/tmp/como-db"}
	if *cfgFile != "" {
		loaded, err := cmn.LoadEnv(*cfgFile)
		if err != nil {
			cmn.Fatalf("comostorage: load env: %v", err)
		}
		env = loaded
	}

	os.RemoveAll(env.StorageSock)
	lis, err := net.Listen("unix", env.StorageSock)
	if err != nil {
		cmn.Fatalf("comostorage: listen %s: %v", env.StorageSock, err)
	}
	defer lis.Close()

	srv := storage.NewServer(env.DBPath)

	ix, err := storage.OpenIndex(env.DBPath + "/chunks.db")
	if err != nil {
		cmn.Fatalf("comostorage: open chunk index: %v", err)
	}
	defer ix.Close()
	if err := storage.RecoverAll(ix, env.DBPath); err != nil {
		cmn.Warnf("comostorage: chunk index recovery: %v", err)
	}

	cmn.Infof("comostorage: listening on %s, db-path=%s", env.StorageSock, env.DBPath)

	rs := storage.NewRemoteServer(srv)
	for {
		conn, err := lis.Accept()
		if err != nil {
			cmn.LogErrorf("comostorage: accept: %v", err)
			return
		}
		go rs.Serve(conn)
	}
}
