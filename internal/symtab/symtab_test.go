// SPDX-License-Identifier: AGPL-3.0-or-later
package symtab_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/speechgraph/sgraph/internal/symtab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndResolve(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(path, []byte("<eps> 0\nhello 1\nworld 2\n"), 0o644))

	tab, err := symtab.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hello", tab.Word("1"))
	assert.Equal(t, symtab.UnknownWord, tab.Word("999"))
	assert.Equal(t, "hello world <UNK>", tab.Words([]string{"1", "2", "999"}))
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello 1 extra\n"), 0o644))

	_, err := symtab.Load(path)
	assert.Error(t, err)
}
