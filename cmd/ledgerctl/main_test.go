package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger/memory"
)

func executeCLI(t *testing.T, store *memory.Store, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context, string) (*app, error) { return newApp(store, nil), nil }
	root := newRootCmd(open)
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--dsn", "memory"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestGrantRevokeShow(t *testing.T) {
	store := memory.New()

	out, err := executeCLI(t, store, "grant", "42", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 10")

	out, err = executeCLI(t, store, "revoke", "42", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 0")

	out, err = executeCLI(t, store, "show", "42", "--json")
	require.NoError(t, err)
	var acc ledger.Account
	require.NoError(t, json.Unmarshal([]byte(out), &acc))
	assert.EqualValues(t, 42, acc.UserID)
	assert.Zero(t, acc.Balance)
}

func TestGrantRejectsBadArgs(t *testing.T) {
	store := memory.New()
	_, err := executeCLI(t, store, "grant", "abc", "10")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = executeCLI(t, store, "grant", "42", "0")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = executeCLI(t, store, "grant", "42")
	assert.Error(t, err)
}

func TestValiditySetClear(t *testing.T) {
	store := memory.New()

	out, err := executeCLI(t, store, "validity", "set", "7", "30")
	require.NoError(t, err)
	assert.NotContains(t, out, "valid - .. -")

	out, err = executeCLI(t, store, "premium")
	require.NoError(t, err)
	assert.Contains(t, out, "7 ")

	out, err = executeCLI(t, store, "validity", "clear", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "valid - .. -")

	_, err = executeCLI(t, store, "validity", "set", "7", "0")
	assert.ErrorIs(t, err, ledger.ErrInvalidDays)

	_, err = executeCLI(t, store, "validity", "set", "7", "200000")
	assert.ErrorIs(t, err, ledger.ErrInvalidDays)
}

func TestGrantOverflowRefused(t *testing.T) {
	store := memory.New()

	_, err := executeCLI(t, store, "grant", "42", "9223372036854775807")
	require.NoError(t, err)
	_, err = executeCLI(t, store, "grant", "42", "1")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	out, err := executeCLI(t, store, "show", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 9223372036854775807")
}

func TestListCountExport(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"1", "2", "3"} {
		_, err := executeCLI(t, store, "grant", id, "5")
		require.NoError(t, err)
	}

	out, err := executeCLI(t, store, "count")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = executeCLI(t, store, "list", "--limit", "2")
	require.NoError(t, err)
	lines := bytes.Count([]byte(out), []byte("\n"))
	assert.Equal(t, 3, lines, "header plus two rows")

	out, err = executeCLI(t, store, "export")
	require.NoError(t, err)
	var n int
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var acc ledger.Account
		require.NoError(t, json.Unmarshal(sc.Bytes(), &acc))
		assert.EqualValues(t, 5, acc.Balance)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestMigrateNeedsDatabase(t *testing.T) {
	_, err := executeCLI(t, memory.New(), "migrate", "version")
	assert.ErrorIs(t, err, errNoDatabase)
}
