package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func decisions(t *testing.T, out string) []any {
	t.Helper()
	var results []EvalResult
	assert.NoError(t, json.Unmarshal([]byte(out), &results))
	got := make([]any, 0, len(results))
	for _, r := range results {
		got = append(got, r.Nodes["decision"].Data)
	}
	return got
}

func TestEvalCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []any
	}{
		{
			name: "dry run",
			args: []string{"testdata/graph.yaml", "testdata/events.json"},
			want: []any{"allow", "allow", "allow"},
		},
		{
			name: "commit",
			args: []string{"--commit", "testdata/graph.yaml", "testdata/events.json"},
			want: []any{"allow", "allow", "review"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--format", "json", "eval"}, tt.args...)...)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, decisions(t, out))
		})
	}
}

func TestEvalCommandText(t *testing.T) {
	out, err := execute(t, "eval", "--commit", "testdata/graph.yaml", "testdata/events.json")
	assert.NoError(t, err)
	assert.Contains(t, out, "event e1 (committed)")
	assert.Contains(t, out, "event e3 (committed)")
	assert.Contains(t, out, `"review"`)
}

func TestEvalCommandSelectedNodes(t *testing.T) {
	out, err := execute(t, "--format", "json", "eval", "--node", "logins", "testdata/graph.yaml", "testdata/events.json")
	assert.NoError(t, err)

	var results []EvalResult
	assert.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Equal(t, 3, len(results))
	_, ok := results[0].Nodes["decision"]
	assert.False(t, ok)
	_, ok = results[0].Nodes["logins"]
	assert.True(t, ok)
}

func TestEvalCommandPersistentStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	args := []string{"--format", "json", "eval", "--commit", "--store", "pebble", "--state-dir", dir,
		"testdata/graph.yaml", "testdata/events.json"}

	out, err := execute(t, args...)
	assert.NoError(t, err)
	assert.Equal(t, []any{"allow", "allow", "review"}, decisions(t, out))

	// Counts survive the restart.
	out, err = execute(t, args...)
	assert.NoError(t, err)
	assert.Equal(t, []any{"review", "review", "review"}, decisions(t, out))
}

func TestEvalCommandStdin(t *testing.T) {
	in := strings.Join([]string{
		`{"id": "a", "type": "login", "timestamp": "2024-03-01T12:00:00Z", "data": {"user": "bob"}}`,
		`{"type": "login", "timestamp": "2024-03-01T12:01:00Z", "data": {"user": "bob"}}`,
	}, "\n")

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs([]string{"--log-format", "json", "--format", "json", "eval", "testdata/graph.yaml", "-"})
	assert.NoError(t, cmd.Execute())

	var results []EvalResult
	assert.NoError(t, json.Unmarshal(out.Bytes(), &results))
	assert.Equal(t, 2, len(results))
	assert.Equal(t, "a", results[0].Event)
	assert.Equal(t, "event-1", results[1].Event)
}

func TestEvalCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "broken graph",
			args: []string{"eval", "testdata/broken.yaml", "testdata/events.json"},
			want: "decision",
		},
		{
			name: "missing events",
			args: []string{"eval", "testdata/graph.yaml", "testdata/missing.json"},
			want: "read events",
		},
		{
			name: "store without path",
			args: []string{"eval", "--store", "badger", "testdata/graph.yaml", "testdata/events.json"},
			want: "invalid store flags",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
