// SPDX-License-Identifier: AGPL-3.0-or-later

// Package symtab loads the §6.4 symbol table file (one "<word> <id>" pair
// per line) and resolves decoder word ids back to words.
package symtab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// UnknownWord is substituted for any id absent from the table.
const UnknownWord = "<UNK>"

// Table maps decoder word ids (kept as strings, per §6.4: "ids are stored
// as strings and looked up by string") to words.
type Table struct {
	idToWord map[string]string
}

// Load parses a symbol table file from path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("symtab: opening %s: %w", path, err)
	}
	defer f.Close()

	t := &Table{idToWord: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("symtab: %s:%d: expected \"<word> <id>\", got %q", path, lineNo, line)
		}
		t.idToWord[fields[1]] = fields[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("symtab: reading %s: %w", path, err)
	}
	return t, nil
}

// Word resolves a decoder word id to its word, or UnknownWord if absent.
func (t *Table) Word(id string) string {
	if w, ok := t.idToWord[id]; ok {
		return w
	}
	return UnknownWord
}

// Words resolves a whitespace-delimited sequence of ids, as emitted by the
// decoder subprocess's stdout lines, to a space-joined sentence.
func (t *Table) Words(ids []string) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = t.Word(id)
	}
	return strings.Join(words, " ")
}
