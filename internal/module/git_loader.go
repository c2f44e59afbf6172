package module

import (
	"context"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// GitLoader serves modules from the tree of one committed revision, so a
// host can pin script content to a commit.
type GitLoader struct {
	repo       *git.Repository
	revision   string
	extensions []string

	mu     sync.RWMutex
	commit *object.Commit
	tree   *object.Tree
}

// OpenGitLoader opens the repository at path. An empty revision means HEAD.
func OpenGitLoader(path, revision string, extensions []string) (*GitLoader, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open repository %s", path)
	}
	return NewGitLoader(repo, revision, extensions)
}

func NewGitLoader(repo *git.Repository, revision string, extensions []string) (*GitLoader, error) {
	if revision == "" {
		revision = "HEAD"
	}
	l := &GitLoader{repo: repo, revision: revision, extensions: extensionsOrDefault(extensions)}
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh re-resolves the revision, picking up new commits on a branch.
func (l *GitLoader) Refresh() error {
	hash, err := l.repo.ResolveRevision(plumbing.Revision(l.revision))
	if err != nil {
		return errors.Wrapf(err, "resolve revision %s", l.revision)
	}
	commit, err := l.repo.CommitObject(*hash)
	if err != nil {
		return errors.Wrapf(err, "commit %s", hash)
	}
	tree, err := commit.Tree()
	if err != nil {
		return errors.Wrapf(err, "tree of %s", hash)
	}

	l.mu.Lock()
	l.commit, l.tree = commit, tree
	l.mu.Unlock()
	return nil
}

// Commit returns the hash modules are currently served from.
func (l *GitLoader) Commit() plumbing.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commit.Hash
}

func (l *GitLoader) Load(ctx context.Context, specifier string) (Source, error) {
	spec, err := cleanSpecifier(specifier)
	if err != nil {
		return Source{}, err
	}

	l.mu.RLock()
	tree, hash := l.tree, l.commit.Hash
	l.mu.RUnlock()

	for _, c := range candidates(spec, l.extensions) {
		if err := ctx.Err(); err != nil {
			return Source{}, err
		}
		f, err := tree.File(c)
		if err == object.ErrFileNotFound {
			continue
		}
		if err != nil {
			return Source{}, errors.Wrapf(err, "lookup %s", c)
		}
		text, err := f.Contents()
		if err != nil {
			return Source{}, errors.Wrapf(err, "read %s", c)
		}
		return Source{Name: c, Text: text, Origin: "git:" + c + "@" + hash.String()[:7]}, nil
	}
	return Source{}, errors.Wrapf(ErrNotFound, "%s at %s", specifier, l.revision)
}
