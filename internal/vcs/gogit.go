package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

const remoteName = "origin"

// goGit implements VCS in process with go-git.
type goGit struct{}

// NewGoGit creates a VCS that needs no git executable.
func NewGoGit() VCS {
	return goGit{}
}

func (goGit) Fetch(ctx context.Context, location, dir string) error {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
			return err
		}
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:        location,
			RemoteName: remoteName,
			Tags:       git.AllTags,
			NoCheckout: true,
		})
		if err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("clone %s: %w", location, err)
		}
		return recordDefault(ctx, repo)
	}
	if err != nil {
		return err
	}
	if err := ensureRemote(repo, location); err != nil {
		return err
	}
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Tags:       git.AllTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", location, err)
	}
	return recordDefault(ctx, repo)
}

// ensureRemote points the origin remote of repo at location.
func ensureRemote(repo *git.Repository, location string) error {
	rem, err := repo.Remote(remoteName)
	if err == nil {
		if urls := rem.Config().URLs; len(urls) > 0 && urls[0] == location {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return err
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return err
	}
	_, err = repo.CreateRemote(&config.RemoteConfig{
		Name:  remoteName,
		URLs:  []string{location},
		Fetch: []config.RefSpec{config.RefSpec("+refs/heads/*:refs/remotes/" + remoteName + "/*")},
	})
	return err
}

// recordDefault stores the commit the remote HEAD points at as defaultRef.
func recordDefault(ctx context.Context, repo *git.Repository) error {
	rem, err := repo.Remote(remoteName)
	if err != nil {
		return err
	}
	refs, err := rem.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return fmt.Errorf("list %s: %w", remoteName, err)
	}
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}
	head, ok := byName[plumbing.HEAD]
	for i := 0; ok && head.Type() == plumbing.SymbolicReference && i < 10; i++ {
		head, ok = byName[head.Target()]
	}
	if !ok || head.Type() != plumbing.HashReference {
		return nil // empty remote
	}
	return repo.Storer.SetReference(plumbing.NewHashReference(defaultRef, head.Hash()))
}

func (g goGit) Checkout(ctx context.Context, dir, revision string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}
	hash, err := resolve(repo, revision)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", revision, err)
	}
	return nil
}

func (goGit) Resolve(ctx context.Context, dir, revision string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	hash, err := resolve(repo, revision)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func resolve(repo *git.Repository, revision string) (plumbing.Hash, error) {
	for _, rev := range candidates(revision) {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err == nil {
			return *hash, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("%w: %q", ErrRevisionNotFound, revision)
}

func (goGit) Head(ctx context.Context, dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}
