// Package archive is STORAGE's cold-archive hand-off: sealed chunk files
// age out to one of several cloud object stores, best-effort and
// asynchronous (spec.md's storage section never promises durability
// beyond the local bytestream; this is a **(NEW)** addition layered on
// top, never a dependency of the core read/write path — see
// SPEC_FULL.md's storage-engine section).
//
// Grounded on _examples/ghjramos-aistore's backend package set
// (ais/backend/*.go — gcp.go, aws.go, azure.go) for the
// "one Backend interface, one file per provider" shape, transplanted
// onto our much narrower upload-only surface.
/*
 * Copyright (c) 2024, CoMo Project. All rights reserved.
 */
package archive

import "context"

// Backend uploads one sealed, already-encoded chunk blob to a cold
// object store under key, and can fetch it back for QUERY's historical
// reads once the local chunk has been evicted.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Sweeper drives the local-chunk -> cold-archive hand-off: encode, then
// best-effort upload, logging and continuing on failure rather than
// blocking STORAGE's writer.
type Sweeper struct {
	backend Backend
	codec   *Codec
}

func NewSweeper(backend Backend, codec *Codec) *Sweeper {
	return &Sweeper{backend: backend, codec: codec}
}

// Archive encodes (compress + erasure-code) and uploads one sealed
// chunk's raw bytes. Errors are the caller's to log-and-continue; a
// failed archive attempt leaves the local chunk file as the only copy,
// which is always a safe fallback since local chunks are never deleted
// by this package.
func (s *Sweeper) Archive(ctx context.Context, key string, raw []byte) error {
	encoded, err := s.codec.Encode(raw)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, encoded)
}

// Restore downloads and decodes a previously archived chunk.
func (s *Sweeper) Restore(ctx context.Context, key string) ([]byte, error) {
	encoded, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(encoded)
}
