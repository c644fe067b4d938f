package cmn

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Env is the scalar node environment from spec.md §6: db-path, libdir,
// query-port, mem-size (MB, rounded up to a power of two), filesize
// (per-module stream chunk cap). It intentionally carries nothing about
// module filter expressions or the config-file grammar itself — that
// remains the external collaborator's job; Env is just the handful of
// flat settings every process needs to find the others.
type Env struct {
	DBPath      string `yaml:"db-path"`
	LibDir      string `yaml:"libdir"`
	QueryPort   int    `yaml:"query-port"`
	MemSizeMB   int    `yaml:"mem-size"`
	FileSize    int64  `yaml:"filesize"`
	SupervisorSock string `yaml:"supervisor-sock"`
	CaptureSock    string `yaml:"capture-sock"`
	ExportSock     string `yaml:"export-sock"`
	StorageSock    string `yaml:"storage-sock"`
}

// CLIFlags mirrors the flags listed in spec.md §6: -c cfg, -C "cfg-text",
// -s sniffer,dev[,args], -i module, -e, -S, -v flags.
type CLIFlags struct {
	ConfigFile   string // -c
	ConfigText   string // -C
	Sniffer      string // -s  "sniffer,dev[,args]"
	InlineModule string // -i  inline mode: one module, exit when source drains
	ExitWhenDone bool   // -e
	Silent       bool   // -S
	Verbosity    string // -v
}

// LoadEnv reads path as YAML into an Env. The config-file *grammar* for
// modules/filters is out of scope (spec.md §1); this only ever decodes
// the flat scalar fields above.
func LoadEnv(path string) (*Env, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Wrap(KindIO, err, "read env file")
	}
	env := &Env{
		QueryPort: 12345,
		MemSizeMB: 64,
		FileSize:  256 << 20,
	}
	if err := yaml.Unmarshal(data, env); err != nil {
		return nil, Wrap(KindMalformed, err, "parse env file")
	}
	env.MemSizeMB = nextPow2(env.MemSizeMB)
	return env, nil
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
