package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/tidwall/buntdb"

	"github.com/como-project/como/cmn"
)

// Index is an in-process side index of every known chunk's (stream,
// start offset, size) keyed for fast "which chunk holds offset X"
// lookups, backed by tidwall/buntdb rather than re-deriving it from a
// directory scan on every query. Bytestream.recover()/chunkFor remain
// the source of truth for write-path decisions; Index exists purely to
// let QUERY and the archive sweep answer "what chunks exist" without
// touching STORAGE's hot path (spec.md §9's resource-scheduler goal of
// never letting an ancillary concern block the core read/write path).
type Index struct {
	db *buntdb.DB
}

// OpenIndex opens (creating if absent) the on-disk buntdb index file.
// An empty path keeps the index in memory only, useful for tests.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "open chunk index")
	}
	return &Index{db: db}, nil
}

func chunkKey(stream string, start int64) string {
	return fmt.Sprintf("%s/%0*x", stream, chunkNameWidth, start)
}

// Put records (or updates) one chunk's size under the index.
func (ix *Index) Put(stream string, start, size int64) error {
	return ix.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(chunkKey(stream, start), strconv.FormatInt(size, 10), nil)
		return err
	})
}

// ChunkFor returns the (start, size) of the chunk holding offset for
// stream, the last entry whose key sorts at or before the lookup key.
func (ix *Index) ChunkFor(stream string, offset int64) (start, size int64, ok bool) {
	prefix := stream + "/"
	lookup := chunkKey(stream, offset)
	err := ix.db.View(func(tx *buntdb.Tx) error {
		var bestKey, bestVal string
		terr := tx.AscendRange("", prefix, prefix+"\xff", func(key, val string) bool {
			if key <= lookup {
				bestKey, bestVal = key, val
			}
			return key <= lookup
		})
		if terr != nil {
			return terr
		}
		if bestKey == "" {
			return nil
		}
		hexPart := strings.TrimPrefix(bestKey, prefix)
		s, perr := strconv.ParseInt(hexPart, 16, 64)
		if perr != nil {
			return perr
		}
		sz, perr := strconv.ParseInt(bestVal, 10, 64)
		if perr != nil {
			return perr
		}
		start, size, ok = s, sz, true
		return nil
	})
	if err != nil {
		ok = false
	}
	return
}

func (ix *Index) Close() error { return ix.db.Close() }

// RecoverAll walks baseDir (one subdirectory per bytestream) with
// karrick/godirwalk — faster than filepath.Walk for the large,
// flat-per-chunk directory trees a long-running STORAGE process
// accumulates — and repopulates the index from whatever chunk files
// survived a restart, without needing to read any chunk's contents.
func RecoverAll(ix *Index, baseDir string) error {
	streams := map[string]bool{}
	err := godirwalk.Walk(baseDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || len(de.Name()) != chunkNameWidth {
				return nil
			}
			rel := strings.TrimPrefix(path, baseDir+"/")
			idx := strings.LastIndex(rel, "/")
			if idx < 0 {
				return nil
			}
			stream := rel[:idx]
			streams[stream] = true
			start, perr := parseChunkName(de.Name())
			if perr != nil {
				return perr
			}
			return ix.Put(stream, start, 0) // size is not known here; recorded as 0
		},
	})
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "recover chunk index")
	}
	return nil
}
