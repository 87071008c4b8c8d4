package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/birdayz/trench"
	"github.com/birdayz/trench/kdag"
	"github.com/birdayz/trench/kfn"
	"github.com/birdayz/trench/ksandbox/hclexpr"
	"github.com/spf13/cobra"
)

type evalOptions struct {
	commit bool
	prune  bool
	nodes  []string
	store  StoreConfig
}

// NodeOutput is one node of an evaluated event.
type NodeOutput struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// EvalResult is the JSON output of eval for one event.
type EvalResult struct {
	Event     string                `json:"event"`
	Committed bool                  `json:"committed"`
	Nodes     map[string]NodeOutput `json:"nodes"`
	Rows      []kfn.FeatureRow      `json:"rows,omitempty"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval <graph-file> <event-file>",
		Short: "Evaluate events against a graph",
		Long: `Evaluate the events of a file against a graph and print every node result.

The event file holds one JSON event, a JSON array of events, or one event
per line. Use - to read from stdin. Events run as dry runs unless --commit
is set, in which case state updates of one event are visible to the next.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, rootOpts, opts, args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "apply state updates after each event")
	cmd.Flags().BoolVar(&opts.prune, "prune", false, "prune unreferenced cache nodes")
	cmd.Flags().StringSliceVar(&opts.nodes, "node", nil, "only evaluate these nodes and their dependencies")
	cmd.Flags().StringVar(&opts.store.Type, "store", "memory", "counting store (memory|badger|pebble)")
	cmd.Flags().StringVar(&opts.store.Path, "state-dir", "", "directory of a persistent store")
	return cmd
}

func runEval(cmd *cobra.Command, rootOpts *RootOptions, opts *evalOptions, graphPath, eventPath string) error {
	log, err := rootOpts.logger(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validate.Struct(opts.store); err != nil {
		return fmt.Errorf("invalid store flags: %w", err)
	}

	nodes, err := kdag.NewFileSource(graphPath, log).Load(ctx)
	if err != nil {
		return err
	}
	events, err := readEvents(cmd.InOrStdin(), eventPath)
	if err != nil {
		return err
	}

	store, err := opts.store.openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	appOpts := []trench.Option{
		trench.WithLog(log),
		trench.WithStore(store),
		trench.WithSandbox(hclexpr.New(hclexpr.WithLogger(log.WithGroup("sandbox")))),
	}
	if opts.prune {
		appOpts = append(appOpts, trench.WithPrune())
	}
	app, err := trench.New(nodes, "trench-eval", appOpts...)
	if err != nil {
		return err
	}

	results := make([]EvalResult, 0, len(events))
	for _, event := range events {
		res, err := app.Process(ctx, event, trench.ProcessOptions{DryRun: !opts.commit, NodeIDs: opts.nodes})
		if err != nil {
			return err
		}
		results = append(results, toEvalResult(res))
	}
	return writeEvalResults(cmd.OutOrStdout(), rootOpts.Format, results)
}

func toEvalResult(res *trench.PassResult) EvalResult {
	out := EvalResult{
		Event:     res.Event.ID,
		Committed: res.Committed,
		Nodes:     make(map[string]NodeOutput, len(res.Results)),
		Rows:      res.SavedRows,
	}
	for id, r := range res.Results {
		if r.Err != nil {
			out.Nodes[id] = NodeOutput{Error: r.Err.Error()}
			continue
		}
		out.Nodes[id] = NodeOutput{Data: r.Data}
	}
	return out
}

func writeEvalResults(w io.Writer, format string, results []EvalResult) error {
	if format == "json" {
		return writeJSON(w, results)
	}
	for _, r := range results {
		state := "dry run"
		if r.Committed {
			state = "committed"
		}
		if _, err := fmt.Fprintf(w, "event %s (%s)\n", r.Event, state); err != nil {
			return err
		}
		rows := make([][]string, 0, len(r.Nodes))
		for _, id := range sortedKeys(r.Nodes) {
			n := r.Nodes[id]
			if n.Error != "" {
				rows = append(rows, []string{"  " + id, "error", n.Error})
				continue
			}
			value, err := json.Marshal(n.Data)
			if err != nil {
				return err
			}
			rows = append(rows, []string{"  " + id, "ok", string(value)})
		}
		if err := writeTable(w, rows); err != nil {
			return err
		}
	}
	return nil
}

// readEvents decodes one event, an array of events or JSON lines.
func readEvents(stdin io.Reader, path string) ([]kfn.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return decodeEvents(raw)
	}

	var raw []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for dec.More() {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		raw = append(raw, msg)
	}
	return decodeEvents(raw)
}

func decodeEvents(raw []json.RawMessage) ([]kfn.Event, error) {
	events := make([]kfn.Event, 0, len(raw))
	for i, msg := range raw {
		e, err := kfn.EventJSON.Deserializer(msg)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("event-%d", i)
		}
		events = append(events, e)
	}
	return events, nil
}
