package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/verimesh"
	"github.com/hupe1980/verimesh/config"
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/dispatch"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/tool"
	"github.com/hupe1980/verimesh/tool/mcp"
)

type runFlags struct {
	configPath string
	tasksPath  string
	outputPath string
	timeout    time.Duration
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch the tasks of a YAML file and print the results as JSON",
		Long: `Run loads the configuration, dispatches every task of the task file to the
best matching agent and prints assignments and results as JSON.

Examples:
  # Run with defaults and OPENAI_API_KEY
  verimesh run --tasks tasks.yaml

  # Use a config file and write the report to a file
  verimesh run --config verimesh.yaml --tasks tasks.yaml --output report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasks(cmd.Context(), flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVarP(&flags.tasksPath, "tasks", "t", "", "path to the YAML task file")
	cmd.Flags().StringVarP(&flags.outputPath, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 30*time.Minute, "overall timeout")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func runTasks(ctx context.Context, flags runFlags, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	tf, err := readTaskFile(flags.tasksPath)
	if err != nil {
		return err
	}
	tasks, err := tf.BuildTasks()
	if err != nil {
		return err
	}

	logger, err := logging.NewZapLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	m, err := newModel(cfg.Gateway)
	if err != nil {
		return err
	}

	tools, closeTools, err := connectTools(ctx, cfg.Tools, logger)
	if err != nil {
		return err
	}
	defer closeTools()

	mesh, err := verimesh.New(func(o *verimesh.Options) {
		o.Model = m
		o.Config = &cfg
		o.Tools = tools
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer mesh.Close(context.WithoutCancel(ctx)) //nolint:errcheck

	assignment, results, err := mesh.Dispatch(ctx, tasks, tf.Agents)
	if err != nil && assignment == nil {
		return err
	}

	out := stdout
	if flags.outputPath != "" {
		f, ferr := os.Create(flags.outputPath)
		if ferr != nil {
			return fmt.Errorf("create output file: %w", ferr)
		}
		defer f.Close()
		out = f
	}
	if werr := writeReport(out, newReport(assignment, results)); werr != nil {
		return werr
	}
	return err
}

// connectTools starts the configured MCP servers. A nil collaborator means
// no tools are configured.
func connectTools(ctx context.Context, cfg config.ToolsConfig, logger logging.Logger) (tool.Collaborator, func(), error) {
	if len(cfg.MCPServers) == 0 {
		return nil, func() {}, nil
	}

	var (
		clients       []*mcp.Client
		collaborators []tool.Collaborator
	)
	closeAll := func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				logger.Warn("mcp.close.failed", "error", err)
			}
		}
	}
	for _, server := range cfg.MCPServers {
		client, err := mcp.ConnectCommand(ctx, tool.ToolSpec{Name: server.Name, Command: server.Command, Args: server.Args},
			func(o *mcp.Options) {
				o.Version = version
				o.Logger = logger
			})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect mcp server %s: %w", server.Name, err)
		}
		clients = append(clients, client)
		collaborators = append(collaborators, client)
	}
	return tool.Join(collaborators...), closeAll, nil
}

// Report is the JSON document printed by the run command.
type Report struct {
	Assignments []AssignmentEntry          `json:"assignments"`
	Results     map[string]TaskEntryResult `json:"results"`
}

// AssignmentEntry is one task-to-agent decision.
type AssignmentEntry struct {
	TaskID   string `json:"task_id"`
	AgentID  string `json:"agent_id"`
	Score    int    `json:"score"`
	Fallback string `json:"fallback,omitempty"`
}

// TaskEntryResult is the reported outcome of one task.
type TaskEntryResult struct {
	*core.TaskResult
	Missing bool `json:"missing,omitempty"`
}

func newReport(assignment *dispatch.Assignment, results map[string]*core.TaskResult) Report {
	r := Report{Results: make(map[string]TaskEntryResult)}
	for _, e := range assignment.Entries() {
		entry := AssignmentEntry{TaskID: e.TaskID, AgentID: e.AgentID, Score: e.Score}
		if e.Fallback != nil {
			entry.Fallback = e.Fallback.Error()
		}
		r.Assignments = append(r.Assignments, entry)

		res, ok := results[e.TaskID]
		if !ok {
			r.Results[e.TaskID] = TaskEntryResult{Missing: true}
			continue
		}
		if res.Err != nil && res.ErrorMessage == "" {
			copied := *res
			copied.ErrorMessage = res.Err.Error()
			res = &copied
		}
		r.Results[e.TaskID] = TaskEntryResult{TaskResult: res}
	}
	return r
}

func writeReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
