// Package gitrepo provides operations on local git working copies.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/deployerr"
	"github.com/simplesurance/deployd/internal/logfields"
)

const loggerName = "gitrepo"

const remoteName = "origin"

// PullResult describes the change of a working copy caused by a pull.
type PullResult struct {
	// OldCommit is the commit that was checked out before the pull, it is
	// empty if the working copy was cloned.
	OldCommit string
	// NewCommit is the commit that is checked out after the pull.
	NewCommit string
	// ChangedFiles contains the paths of files that differ between
	// OldCommit and NewCommit.
	ChangedFiles []string
}

// Client runs git operations on local working copies.
type Client struct {
	logger *zap.Logger
}

func New() *Client {
	return &Client{
		logger: zap.L().Named(loggerName),
	}
}

func auth(repo *cfg.Repository) transport.AuthMethod {
	username := repo.Username()
	password := repo.Password()

	if username == "" && password == "" {
		return nil
	}

	return &githttp.BasicAuth{
		Username: username,
		Password: password,
	}
}

func open(repo *cfg.Repository) (*git.Repository, error) {
	r, err := git.PlainOpen(repo.Path)
	if err != nil {
		return nil, fmt.Errorf("opening git repository %s failed: %w", repo.Path, err)
	}

	return r, nil
}

func headCommit(r *git.Repository) (string, error) {
	head, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("resolving HEAD failed: %w", err)
	}

	return head.Hash().String(), nil
}

// CurrentCommit returns the commit that is checked out in the working copy.
// If the working copy does not exist or has no commits, an empty string is
// returned.
func (c *Client) CurrentCommit(_ context.Context, repo *cfg.Repository) (string, error) {
	r, err := git.PlainOpen(repo.Path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}

		return "", fmt.Errorf("opening git repository %s failed: %w", repo.Path, err)
	}

	return headCommit(r)
}

// Pull fetches changes from the remote and fast-forwards the working copy.
// If the working copy does not exist, the repository is cloned.
// Network failures are returned as deployerr.TransientError.
func (c *Client) Pull(ctx context.Context, repo *cfg.Repository) (*PullResult, error) {
	r, err := git.PlainOpen(repo.Path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return c.clone(ctx, repo)
		}

		return nil, fmt.Errorf("opening git repository %s failed: %w", repo.Path, err)
	}

	oldCommit, err := headCommit(r)
	if err != nil {
		return nil, err
	}

	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree failed: %w", err)
	}

	opts := git.PullOptions{
		RemoteName: remoteName,
		Auth:       auth(repo),
	}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		opts.SingleBranch = true
	}

	err = wt.PullContext(ctx, &opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, deployerr.Classify("git pull", err)
	}

	newCommit, err := headCommit(r)
	if err != nil {
		return nil, err
	}

	result := PullResult{
		OldCommit: oldCommit,
		NewCommit: newCommit,
	}

	if oldCommit != newCommit {
		result.ChangedFiles, err = changedFiles(r, oldCommit, newCommit)
		if err != nil {
			c.logger.Warn(
				"could not determine changed files",
				logfields.Event("git_diff_failed"),
				logfields.Repository(repo.Name),
				zap.Error(err),
			)
		}
	}

	return &result, nil
}

func (c *Client) clone(ctx context.Context, repo *cfg.Repository) (*PullResult, error) {
	if repo.RemoteURL == "" {
		return nil, fmt.Errorf("working copy %s does not exist and no remote_url is configured", repo.Path)
	}

	c.logger.Info(
		"working copy does not exist, cloning repository",
		logfields.Event("git_clone_started"),
		logfields.Repository(repo.Name),
		logfields.RepositoryPath(repo.Path),
	)

	opts := git.CloneOptions{
		URL:        repo.RemoteURL,
		RemoteName: remoteName,
		Auth:       auth(repo),
	}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		opts.SingleBranch = true
	}

	r, err := git.PlainCloneContext(ctx, repo.Path, false, &opts)
	if err != nil {
		return nil, deployerr.Classify("git clone", err)
	}

	newCommit, err := headCommit(r)
	if err != nil {
		return nil, err
	}

	return &PullResult{NewCommit: newCommit}, nil
}

func changedFiles(r *git.Repository, fromCommit, toCommit string) ([]string, error) {
	if fromCommit == "" || toCommit == "" {
		return nil, nil
	}

	from, err := r.CommitObject(plumbing.NewHash(fromCommit))
	if err != nil {
		return nil, err
	}

	to, err := r.CommitObject(plumbing.NewHash(toCommit))
	if err != nil {
		return nil, err
	}

	fromTree, err := from.Tree()
	if err != nil {
		return nil, err
	}

	toTree, err := to.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if ch.From.Name != "" {
			paths[ch.From.Name] = struct{}{}
		}
		if ch.To.Name != "" {
			paths[ch.To.Name] = struct{}{}
		}
	}

	result := make([]string, 0, len(paths))
	for p := range paths {
		result = append(result, p)
	}
	sort.Strings(result)

	return result, nil
}

// CommitCount returns the number of commits reachable from HEAD.
func (c *Client) CommitCount(_ context.Context, repo *cfg.Repository) (int, error) {
	r, err := open(repo)
	if err != nil {
		return 0, err
	}

	head, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return 0, nil
		}

		return 0, fmt.Errorf("resolving HEAD failed: %w", err)
	}

	iter, err := r.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, fmt.Errorf("retrieving git log failed: %w", err)
	}
	defer iter.Close()

	var cnt int
	err = iter.ForEach(func(*object.Commit) error {
		cnt++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterating git log failed: %w", err)
	}

	return cnt, nil
}

// FileHash returns the blob hash of the file at path in commit.
// path is relative to the root of the repository.
// If commit is empty or the file does not exist in commit, an empty string is
// returned.
func (c *Client) FileHash(_ context.Context, repo *cfg.Repository, commit, path string) (string, error) {
	if commit == "" {
		return "", nil
	}

	r, err := open(repo)
	if err != nil {
		return "", err
	}

	co, err := r.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return "", fmt.Errorf("retrieving commit %s failed: %w", commit, err)
	}

	f, err := co.File(filepath.ToSlash(path))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("retrieving %s from commit %s failed: %w", path, commit, err)
	}

	return f.Hash.String(), nil
}

// Reset resets the working copy and the current branch to commit.
// Changes in the working copy are discarded.
func (c *Client) Reset(_ context.Context, repo *cfg.Repository, commit string) error {
	r, err := open(repo)
	if err != nil {
		return err
	}

	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree failed: %w", err)
	}

	err = wt.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(commit),
		Mode:   git.HardReset,
	})
	if err != nil {
		return fmt.Errorf("git reset --hard %s failed: %w", commit, err)
	}

	return nil
}
