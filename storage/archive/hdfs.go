package archive

import (
	"context"
	"io"
	"path"

	"github.com/colinmarc/hdfs/v2"

	"github.com/como-project/como/cmn"
)

// HDFSBackend archives chunks into an HDFS directory tree, for
// deployments that already run an on-prem Hadoop cluster as their cold
// tier rather than a public cloud bucket.
type HDFSBackend struct {
	client  *hdfs.Client
	baseDir string
}

func NewHDFSBackend(namenode, baseDir string) (*HDFSBackend, error) {
	client, err := hdfs.New(namenode)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "construct hdfs client")
	}
	return &HDFSBackend{client: client, baseDir: baseDir}, nil
}

func (b *HDFSBackend) Name() string { return "hdfs" }

func (b *HDFSBackend) Put(_ context.Context, key string, data []byte) error {
	full := path.Join(b.baseDir, key)
	if err := b.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "hdfs mkdir for "+full)
	}
	w, err := b.client.Create(full)
	if err != nil {
		return cmn.Wrap(cmn.KindIO, err, "hdfs create "+full)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return cmn.Wrap(cmn.KindIO, err, "hdfs write "+full)
	}
	if err := w.Close(); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "hdfs close writer for "+full)
	}
	return nil
}

func (b *HDFSBackend) Get(_ context.Context, key string) ([]byte, error) {
	full := path.Join(b.baseDir, key)
	r, err := b.client.Open(full)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "hdfs open "+full)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, cmn.Wrap(cmn.KindIO, err, "hdfs read "+full)
	}
	return data, nil
}
