package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Help(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, &bytes.Buffer{}, []string{"--help"})

	require.NoError(t, err, "help is not an error")
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	errW := &bytes.Buffer{}
	err := run(context.Background(), &bytes.Buffer{}, errW, []string{"plan", "--this-is-not-a-valid-flag"})

	require.Error(t, err)
	assert.Equal(t, 2, exitCode(errW, err))
	assert.Contains(t, errW.String(), "unknown flag: --this-is-not-a-valid-flag")
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	errW := &bytes.Buffer{}
	assert.Equal(t, 0, exitCode(errW, nil))
	assert.Empty(t, errW.String())

	assert.Equal(t, 1, exitCode(errW, errors.New("registry unreachable")))
	assert.Equal(t, "error: registry unreachable\n", errW.String())
}
