package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kb = `
schema:
  roles:
    - {label: parent}
    - {label: child}
    - {label: ancestor}
    - {label: descendant}
  types:
    - {label: person, kind: entity, plays: [parent, child, ancestor, descendant]}
    - {label: parentship, kind: relation, relates: [parent, child]}
    - {label: ancestry, kind: relation, relates: [ancestor, descendant]}
rules:
  - label: ancestry-direct
    when:
      atoms:
        - kind: relation
          var: p
          type: parentship
          players: [{role: parent, player: x}, {role: child, player: y}]
    then:
      kind: relation
      var: a
      type: ancestry
      players: [{role: ancestor, player: x}, {role: descendant, player: y}]
  - label: ancestry-transitive
    when:
      atoms:
        - kind: relation
          var: a1
          type: ancestry
          players: [{role: ancestor, player: x}, {role: descendant, player: y}]
        - kind: relation
          var: a2
          type: ancestry
          players: [{role: ancestor, player: y}, {role: descendant, player: z}]
    then:
      kind: relation
      var: a
      type: ancestry
      players: [{role: ancestor, player: x}, {role: descendant, player: z}]
data:
  entities:
    - {id: ann, type: person}
    - {id: ben, type: person}
    - {id: cat, type: person}
  relations:
    - type: parentship
      players: [{role: parent, player: ann}, {role: child, player: ben}]
    - type: parentship
      players: [{role: parent, player: ben}, {role: child, player: cat}]
`

const descendantsOfAnn = `
atoms:
  - kind: relation
    var: a
    type: ancestry
    players: [{role: ancestor, player: x}, {role: descendant, player: y}]
ids:
  - {var: x, id: ann}
`

func writeFiles(t *testing.T) (kbPath, patternPath string) {
	t.Helper()
	dir := t.TempDir()
	kbPath = filepath.Join(dir, "kb.yaml")
	patternPath = filepath.Join(dir, "q.yaml")
	require.NoError(t, os.WriteFile(kbPath, []byte(kb), 0o644))
	require.NoError(t, os.WriteFile(patternPath, []byte(descendantsOfAnn), 0o644))
	return kbPath, patternPath
}

func run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestQueryCommand(t *testing.T) {
	kbPath, patternPath := writeFiles(t)
	stdout, stderr, err := run(t, "--kb", kbPath, "query", "-q", patternPath, "--stats")
	require.NoError(t, err)

	var answers []answerJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &answers))
	var got []string
	for _, a := range answers {
		got = append(got, a.Bindings["y"].ID)
		require.NotNil(t, a.Explanation)
		assert.Contains(t, []string{"ancestry-direct", "ancestry-transitive"}, a.Explanation.Rule)
		assert.Equal(t, "relation", a.Bindings["a"].Kind)
	}
	assert.ElementsMatch(t, []string{"ben", "cat"}, got)
	assert.Contains(t, stderr, "entries=")
}

func TestLoadCommand_SQLite(t *testing.T) {
	kbPath, patternPath := writeFiles(t)
	db := filepath.Join(t.TempDir(), "kb.db")

	stdout, _, err := run(t, "--kb", kbPath, "--backend", "sqlite", "--path", db, "load")
	require.NoError(t, err)
	assert.Equal(t, "loaded 3 entities, 0 attributes, 0 ownerships, 2 relations into sqlite\n", stdout)

	stdout, _, err = run(t, "--kb", kbPath, "--backend", "sqlite", "--path", db, "query", "--no-seed", "-q", patternPath)
	require.NoError(t, err)
	var answers []answerJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &answers))
	assert.Len(t, answers, 2)
}

func TestRulesCommand(t *testing.T) {
	kbPath, _ := writeFiles(t)
	stdout, _, err := run(t, "--kb", kbPath, "rules")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ancestry-direct: materialises\n")
	assert.Contains(t, stdout, "ancestry-transitive: recursive materialises\n")
}

func TestMissingFlags(t *testing.T) {
	_, _, err := run(t, "rules")
	assert.Error(t, err)

	kbPath, _ := writeFiles(t)
	_, _, err = run(t, "--kb", kbPath, "query")
	assert.Error(t, err)

	_, _, err = run(t, "--kb", kbPath, "--backend", "cassandra", "load")
	assert.Error(t, err)
}
