package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playctl/pkg/launch"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) string {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestDetect_NotARepository(t *testing.T) {
	rev, err := Detect(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestDetect_EmptyRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	rev, err := Detect(dir)
	require.NoError(t, err)
	assert.Nil(t, rev)
}

func TestDetect_CleanAndDirty(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commit := commitFile(t, repo, dir, "Dockerfile", "FROM scratch\n")

	sub := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(sub, 0755))

	rev, err := Detect(sub)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, commit, rev.Commit)
	assert.Equal(t, "master", rev.Branch)
	assert.False(t, rev.Dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM busybox\n"), 0644))
	rev, err = Detect(dir)
	require.NoError(t, err)
	assert.True(t, rev.Dirty)

	labels := rev.Labels()
	assert.Equal(t, commit, labels[launch.LabelSourceRevision])
	assert.Equal(t, "true", labels[launch.LabelSourceDirty])
}
