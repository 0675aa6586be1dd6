package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/gitrepo"
)

// fakeVCS simulates a working copy that is synchronized with a remote
// repository.
type fakeVCS struct {
	lock sync.Mutex

	checkedOut string
	remoteHead string
	// commitCounts contains the number of commits reachable from a commit.
	commitCounts map[string]int
	// depHashes contains the hash of the dependency file per commit.
	depHashes map[string]string
	nextID    int
	pullErr   error
}

func newFakeVCS(initialCommit string) *fakeVCS {
	f := fakeVCS{
		commitCounts: map[string]int{},
		depHashes:    map[string]string{},
	}

	if initialCommit != "" {
		f.checkedOut = initialCommit
		f.remoteHead = initialCommit
		f.commitCounts[initialCommit] = 1
		f.depHashes[initialCommit] = "dep-0"
	}

	return &f
}

// push creates a new commit in the remote repository.
func (f *fakeVCS) push(depsChanged bool) string {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.nextID++
	commit := fmt.Sprintf("%040x", f.nextID)

	f.commitCounts[commit] = f.commitCounts[f.remoteHead] + 1

	depHash := f.depHashes[f.remoteHead]
	if depsChanged {
		depHash = fmt.Sprintf("dep-%d", f.nextID)
	}
	f.depHashes[commit] = depHash

	f.remoteHead = commit

	return commit
}

func (f *fakeVCS) setPullErr(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.pullErr = err
}

func (f *fakeVCS) getCheckedOut() string {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.checkedOut
}

func (f *fakeVCS) CurrentCommit(context.Context, *cfg.Repository) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.checkedOut, nil
}

func (f *fakeVCS) Pull(context.Context, *cfg.Repository) (*gitrepo.PullResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.pullErr != nil {
		return nil, f.pullErr
	}

	res := gitrepo.PullResult{
		OldCommit: f.checkedOut,
		NewCommit: f.remoteHead,
	}
	f.checkedOut = f.remoteHead

	return &res, nil
}

func (f *fakeVCS) CommitCount(context.Context, *cfg.Repository) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.commitCounts[f.checkedOut], nil
}

func (f *fakeVCS) FileHash(_ context.Context, _ *cfg.Repository, commit, _ string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	return f.depHashes[commit], nil
}

func (f *fakeVCS) Reset(_ context.Context, _ *cfg.Repository, commit string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if _, exist := f.commitCounts[commit]; !exist {
		return errors.New("unknown commit")
	}

	f.checkedOut = commit

	return nil
}

// fakeStep returns a configurable error.
type fakeStep struct {
	lock  sync.Mutex
	err   error
	calls int
}

func (f *fakeStep) setErr(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.err = err
}

func (f *fakeStep) call() error {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.calls++
	return f.err
}

type fakeInstaller struct{ fakeStep }

func (f *fakeInstaller) InstallDependencies(context.Context, *cfg.Repository) error {
	return f.call()
}

type fakeHealthChecker struct{ fakeStep }

func (f *fakeHealthChecker) Check(context.Context, *cfg.Repository) error {
	return f.call()
}
