package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"example.com/unitbrain/internal/agent/behavior"
	"example.com/unitbrain/internal/agent/behavior/tasks"
	"example.com/unitbrain/internal/events"
	"example.com/unitbrain/internal/treedef"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "btctl",
		Short:        "Validate and dry-run behavior tree definitions",
		SilenceUsage: true,
	}
	root.AddCommand(newValidateCmd(), newRunCmd(), newTypesCmd())
	return root
}

// loadTree reads a definition file into an uncompiled tree.
func loadTree(path, format string, opts ...behavior.Option) (*behavior.Tree, error) {
	var (
		f   treedef.Format
		err error
	)
	if format != "" {
		f, err = treedef.ParseFormat(format)
	} else {
		f, err = treedef.FormatFromPath(path)
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}
	return behavior.New(data, treedef.Parser{Format: f, Registry: tasks.DefaultRegistry()}, opts...), nil
}

func newValidateCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Compile a tree and print its task table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := loadTree(args[0], format)
			if err != nil {
				return err
			}
			if err := tree.Compile(); err != nil {
				return err
			}
			return printTable(cmd.OutOrStdout(), tree)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "definition format (yaml, json, hcl); defaults to the file extension")
	return cmd
}

func printTable(out io.Writer, tree *behavior.Tree) error {
	tables := tree.Tables()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tKIND\tPARENT\tCOMPOSITE\tABORT\tCHILDREN")
	for id := range tree.TaskCount() {
		task := tree.Task(id)
		children := make([]string, 0, len(tables.ChildrenIndex[id]))
		for _, c := range tables.ChildrenIndex[id] {
			children = append(children, fmt.Sprint(c))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n", id, task.Name, task.Type, task.Kind(),
			tables.ParentIndex[id], tables.ParentCompositeIndex[id], task.AbortType(), strings.Join(children, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d tasks\n", tree.TaskCount())
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		format  string
		ticks   int
		step    time.Duration
		sets    []string
		restart bool
		verbose bool
		unit    string
	)
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Tick a tree against a simulated clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bb := behavior.NewBlackboard()
			for _, kv := range sets {
				key, value, err := parseAssignment(kv)
				if err != nil {
					return err
				}
				bb.Set(key, value)
			}
			clock := behavior.NewManualClock(0)
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			tree, err := loadTree(args[0], format,
				behavior.WithUnit(behavior.StaticUnit(unit)),
				behavior.WithClock(clock),
				behavior.WithBlackboard(bb),
				behavior.WithLogger(logger),
				behavior.WithEvents(events.NewLogSink(logger, slog.LevelDebug)),
				behavior.WithRestartWhenComplete(restart),
			)
			if err != nil {
				return err
			}
			if err := tree.Enable(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 1; i <= ticks; i++ {
				tree.Update()
				fmt.Fprintf(out, "tick %d t=%dms running=%t stacks=%s\n", i, clock.NowMilliseconds(), tree.IsRunning(), describeStacks(tree))
				if !tree.IsRunning() {
					break
				}
				clock.Advance(step)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&format, "format", "", "definition format (yaml, json, hcl); defaults to the file extension")
	f.IntVar(&ticks, "ticks", 10, "number of updates to run")
	f.DurationVar(&step, "step", 100*time.Millisecond, "simulated time between ticks")
	f.StringArrayVar(&sets, "set", nil, "blackboard entry as key=value; JSON values are decoded")
	f.BoolVar(&restart, "restart", false, "restart the tree when the root completes")
	f.BoolVarP(&verbose, "verbose", "v", false, "log every lifecycle event")
	f.StringVar(&unit, "unit", "btctl", "unit id reported in events")
	return cmd
}

func parseAssignment(kv string) (string, any, error) {
	key, raw, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid --set %q, want key=value", kv)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	return key, v, nil
}

// describeStacks renders each stack as its task names, root first.
func describeStacks(tree *behavior.Tree) string {
	stacks := tree.Stacks()
	if len(stacks) == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(stacks))
	for _, s := range stacks {
		names := make([]string, 0, len(s.Tasks))
		for _, id := range s.Tasks {
			names = append(names, tree.Task(id).Name)
		}
		parts = append(parts, fmt.Sprintf("#%d[%s]", s.ID, strings.Join(names, ">")))
	}
	return strings.Join(parts, " ")
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the task types a definition may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := tasks.DefaultRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tKIND")
			for _, name := range reg.Names() {
				f, _ := reg.Lookup(name)
				fmt.Fprintf(w, "%s\t%s\n", name, f.Kind)
			}
			return w.Flush()
		},
	}
}
