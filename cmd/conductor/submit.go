package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	submitFile         string
	submitName         string
	submitDescription  string
	submitType         string
	submitPriority     string
	submitCapabilities []string
	submitDependsOn    []string
	submitSet          []string
	submitWait         bool
	submitWaitTimeout  time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task or workflow to a running server",
	Long: `Create a task from flags, or a task or workflow from a YAML/JSON file.

A file with a top-level "tasks" list is submitted as a workflow; steps
refer to each other by key in their dependencies. Any other file is a
single task.

Examples:
  conductor submit --name "weekly report" --capability data_analysis --priority high
  conductor submit --name notify --capability notification --depends-on <task-id> --set channel=ops
  conductor submit -f report-workflow.yaml --wait`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitFile, "file", "f", "", "task or workflow definition (YAML or JSON)")
	f.StringVar(&submitName, "name", "", "task name")
	f.StringVar(&submitDescription, "description", "", "task description")
	f.StringVar(&submitType, "type", "", "task type label")
	f.StringVarP(&submitPriority, "priority", "p", "", "low, medium, high or urgent (default medium)")
	f.StringSliceVarP(&submitCapabilities, "capability", "c", nil, "required capability (repeatable)")
	f.StringSliceVar(&submitDependsOn, "depends-on", nil, "ID of a task that must complete first (repeatable)")
	f.StringArrayVar(&submitSet, "set", nil, "context entry key=value; values are parsed as YAML scalars (repeatable)")
	f.BoolVar(&submitWait, "wait", false, "wait until the task or workflow finishes")
	f.DurationVar(&submitWaitTimeout, "wait-timeout", 10*time.Minute, "give up waiting after this long")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var (
		sub *submission
		err error
	)
	if submitFile != "" {
		data, rerr := os.ReadFile(submitFile)
		if rerr != nil {
			return fmt.Errorf("read %s: %w", submitFile, rerr)
		}
		sub, err = parseSubmission(data)
	} else {
		sub, err = taskFromFlags()
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &apiClient{base: baseURL(), http: &http.Client{Timeout: 10 * time.Second}}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, sub.path, sub.payload, &created); err != nil {
		return err
	}
	fmt.Printf("%s Created %s %s\n", color.GreenString("✓"), sub.kind, color.New(color.Bold).Sprint(created.ID))

	if !submitWait {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, submitWaitTimeout)
	defer cancel()
	return waitFor(ctx, c, sub.path+"/"+created.ID)
}

// submission is a request body and where to send it.
type submission struct {
	kind    string
	path    string
	payload any
}

// parseSubmission decodes a YAML or JSON definition. JSON is valid YAML,
// so both go through the YAML decoder and are re-encoded as JSON to pick
// up the API's field names.
func parseSubmission(data []byte) (*submission, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if len(doc) == 0 {
		return nil, errors.New("definition is empty")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	if _, ok := doc["tasks"]; ok {
		var spec models.WorkflowSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("parse workflow: %w", err)
		}
		return &submission{kind: "workflow", path: "/api/workflows", payload: spec}, nil
	}
	var spec models.TaskSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse task: %w", err)
	}
	return &submission{kind: "task", path: "/api/tasks", payload: spec}, nil
}

func taskFromFlags() (*submission, error) {
	if submitName == "" {
		return nil, errors.New("--name or --file is required")
	}
	taskCtx, err := parseSet(submitSet)
	if err != nil {
		return nil, err
	}
	spec := models.TaskSpec{
		Name:                 submitName,
		Description:          submitDescription,
		Type:                 submitType,
		Priority:             models.Priority(submitPriority),
		RequiredCapabilities: submitCapabilities,
		Dependencies:         submitDependsOn,
		Context:              taskCtx,
	}
	return &submission{kind: "task", path: "/api/tasks", payload: spec}, nil
}

// parseSet turns key=value pairs into a context map. Values are decoded as
// YAML so numbers and booleans keep their type.
func parseSet(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		out[key] = v
	}
	return out, nil
}

// waitFor polls a task or workflow until it reaches a terminal status.
func waitFor(ctx context.Context, c *apiClient, path string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var cur struct {
			Status string          `json:"status"`
			Result json.RawMessage `json:"result"`
			Error  string          `json:"error"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &cur); err != nil {
			return err
		}
		switch cur.Status {
		case "completed":
			fmt.Printf("%s Completed\n", color.GreenString("✓"))
			if len(cur.Result) > 0 {
				fmt.Println(string(cur.Result))
			}
			return nil
		case "failed":
			fmt.Printf("%s Failed: %s\n", color.RedString("✗"), cur.Error)
			return errors.New("failed")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			if apiErr.Field != "" {
				return fmt.Errorf("%s: %s (%s)", resp.Status, apiErr.Error, apiErr.Field)
			}
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
