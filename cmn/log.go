package cmn

import "github.com/golang/glog"

// Logging goes through glog, the logging library used elsewhere in the
// pack (_examples/mjnovice-aistore/dfc/proxy.go); the teacher itself
// moved to its own cmn/nlog, but glog is the closer match for a
// single-binary-per-process daemon with no log-shipping layer of its
// own. We depend on the real upstream package directly instead of
// vendoring it, and only add the thinnest of wrappers so call sites
// read como-flavored ("Infof", not "InfoDepth").

func Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func Warnf(format string, args ...interface{})    { glog.Warningf(format, args...) }
func LogErrorf(format string, args ...interface{}) { glog.Errorf(format, args...) }

// Fatalf logs at fatal severity and terminates the process, the required
// reaction to a KindFatal error (spec.md §7).
func Fatalf(format string, args ...interface{}) { glog.Fatalf(format, args...) }

func Flush() { glog.Flush() }
