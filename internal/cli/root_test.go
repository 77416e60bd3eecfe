package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "qicc", cmd.Use)
	assert.Contains(t, cmd.Long, "sequencer")
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"compile", "validate", "simulate", "dump", "list", "test"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestRootCommand_SubcommandFlags(t *testing.T) {
	tests := []struct {
		command  string
		flag     string
		defValue string
	}{
		{"compile", "sample", ""},
		{"compile", "output", ""},
		{"compile", "save", "false"},
		{"compile", "db", ""},
		{"simulate", "sample", ""},
		{"dump", "db", ""},
		{"dump", "words", "false"},
		{"list", "db", ""},
		{"list", "limit", "20"},
		{"test", "filter", ""},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.defValue, f.DefValue)
		})
	}
}

func TestRootCommand_OutputShorthand(t *testing.T) {
	root := NewRootCommand()
	sub, _, err := root.Find([]string{"compile"})
	require.NoError(t, err)
	assert.Equal(t, "o", sub.Flags().Lookup("output").Shorthand)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "yaml", "validate", "job.cue"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "invalid")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "broken")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
