// Package vcs reads source control metadata of a build context.
package vcs

import (
	"errors"
	"fmt"
	"strconv"

	git "github.com/go-git/go-git/v5"

	"playctl/pkg/launch"
)

// Revision identifies the commit a build context was taken from.
type Revision struct {
	Commit string
	Branch string
	Dirty  bool
}

// Labels returns the OCI image labels describing the revision.
func (r Revision) Labels() map[string]string {
	return map[string]string{
		launch.LabelSourceRevision: r.Commit,
		launch.LabelSourceDirty:    strconv.FormatBool(r.Dirty),
	}
}

// Detect returns the revision of the git work tree containing path. It
// returns nil without error when path is not inside a repository or the
// repository has no commits yet.
func Detect(path string) (*Revision, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		// An empty repository has no HEAD to label the image with.
		return nil, nil
	}

	rev := &Revision{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		rev.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no work tree to be dirty.
		return rev, nil
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read work tree status: %w", err)
	}
	rev.Dirty = !status.IsClean()

	return rev, nil
}
