package supervisor

import (
	"context"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/como-project/como/cmn"
)

// ProcessSet owns the long-lived CAPTURE/EXPORT/STORAGE child processes
// SUPERVISOR forks at startup (spec.md §4.6), using golang.org/x/sync's
// errgroup the way the teacher fans out and joins its own xaction set
// (_examples/ghjramos-aistore/xact package's Go/Wait convention) instead
// of hand-rolled sync.WaitGroup bookkeeping.
type ProcessSet struct {
	group *errgroup.Group
	ctx   context.Context
	procs []*exec.Cmd
}

// NewProcessSet prepares a process set bound to ctx; canceling ctx
// kills every managed process (exec.CommandContext) and Wait returns
// once all have exited.
func NewProcessSet(ctx context.Context) *ProcessSet {
	g, gctx := errgroup.WithContext(ctx)
	return &ProcessSet{group: g, ctx: gctx}
}

// Spawn execs name with args and registers it with the group; the
// process's exit (clean or not) is reported through Wait.
func (p *ProcessSet) Spawn(name string, args ...string) error {
	cmd := exec.CommandContext(p.ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "spawn process "+name)
	}
	p.procs = append(p.procs, cmd)
	p.group.Go(cmd.Wait)
	return nil
}

// Wait blocks until every spawned process has exited, returning the
// first non-nil error (if ctx was canceled early, callers should treat
// a context.Canceled error as expected shutdown, not failure).
func (p *ProcessSet) Wait() error {
	if err := p.group.Wait(); err != nil {
		return cmn.Wrap(cmn.KindIO, err, "process set exited with error")
	}
	return nil
}

// Running reports how many processes are still tracked (started, not
// necessarily still alive — Wait is the source of truth for exit).
func (p *ProcessSet) Running() int { return len(p.procs) }
