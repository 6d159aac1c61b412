package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// tempDB returns a database path in a fresh temp dir.
func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "smartview.db")
}

// writeFile writes content under dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// decode parses a JSON CLIResponse and re-decodes its data into out.
func decode(t *testing.T, output string, out any) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp), "output: %s", output)
	if out != nil {
		data, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return resp
}

const itemsYAML = `
items:
  - {id: 1, title: So What, genre: Jazz, duration: 9m}
  - {id: 2, title: Paranoid, genre: Rock, duration: 3m}
  - {id: 3, title: Blue in Green, genre: Jazz, duration: 5m}
`

const jazzWhere = `{"op":"eq","field":"genre","value":"Jazz"}`

// seedLibrary adds the items of itemsYAML to db.
func seedLibrary(t *testing.T, db string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), "items.yaml", itemsYAML)
	_, err := execute(t, "--db", db, "item", "add", "--file", path)
	require.NoError(t, err)
}
