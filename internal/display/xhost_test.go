package display

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "playctl/internal/errors"
)

type recordedCall struct {
	env  []string
	name string
	args []string
}

type fakeRunner struct {
	calls  []recordedCall
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, error) {
	f.calls = append(f.calls, recordedCall{env: env, name: name, args: args})
	return f.output, f.err
}

func TestArgs(t *testing.T) {
	tests := []struct {
		scope   string
		want    []string
		wantErr bool
	}{
		{scope: "local", want: []string{"+local:docker"}},
		{scope: "", want: []string{"+local:docker"}},
		{scope: "all", want: []string{"+"}},
		{scope: "none", want: nil},
		{scope: "everyone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			got, err := Args(tt.scope)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestXHost_Grant_Local(t *testing.T) {
	runner := &fakeRunner{output: "non-network local connections being added to access control list\n"}
	x := NewXHostWithRunner(runner)

	require.NoError(t, x.Grant(context.Background(), ":0", "local"))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "xhost", runner.calls[0].name)
	assert.Equal(t, []string{"+local:docker"}, runner.calls[0].args)
	assert.Equal(t, []string{"DISPLAY=:0"}, runner.calls[0].env)
}

func TestXHost_Grant_NoDisplayIsNonFatal(t *testing.T) {
	runner := &fakeRunner{}
	x := NewXHostWithRunner(runner)

	err := x.Grant(context.Background(), "", "local")
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrDisplayAccess)
	assert.False(t, perrors.IsFatal(err))
	assert.Empty(t, runner.calls, "xhost must not run without a display")
}

func TestXHost_Grant_NoneSkips(t *testing.T) {
	runner := &fakeRunner{}
	x := NewXHostWithRunner(runner)

	assert.NoError(t, x.Grant(context.Background(), "", "none"))
	assert.Empty(t, runner.calls)
}

func TestXHost_Grant_Failures(t *testing.T) {
	t.Run("x server unreachable", func(t *testing.T) {
		runner := &fakeRunner{output: "xhost:  unable to open display \":1\"\n", err: errors.New("exit status 1")}
		err := NewXHostWithRunner(runner).Grant(context.Background(), ":1", "local")

		var launchErr *perrors.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, perrors.ErrDisplayAccess, launchErr.Type)
		assert.Equal(t, `xhost:  unable to open display ":1"`, launchErr.Cause)
		assert.False(t, launchErr.Fatal())
	})

	t.Run("xhost missing", func(t *testing.T) {
		runner := &fakeRunner{err: &exec.Error{Name: "xhost", Err: exec.ErrNotFound}}
		err := NewXHostWithRunner(runner).Grant(context.Background(), ":0", "local")

		var launchErr *perrors.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "xhost is not installed", launchErr.Cause)
	})

	t.Run("unknown scope is a config error", func(t *testing.T) {
		err := NewXHostWithRunner(&fakeRunner{}).Grant(context.Background(), ":0", "world")
		assert.ErrorIs(t, err, perrors.ErrConfigInvalid)
	})
}
