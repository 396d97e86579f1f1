package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/schema"
)

// TaskFile is the YAML document read by the run command.
type TaskFile struct {
	Agents []core.AgentIdentity `yaml:"agents"`
	Tasks  []TaskEntry          `yaml:"tasks"`
}

// TaskEntry declares one task.
type TaskEntry struct {
	ID           string        `yaml:"id"`
	Description  string        `yaml:"description"`
	Output       []OutputField `yaml:"output"`
	Tools        []string      `yaml:"tools"`
	Requirements []string      `yaml:"requirements"`
	// Knowledge is passed to the task as context.
	Knowledge []string `yaml:"knowledge"`
}

// OutputField declares one field of the output schema.
type OutputField struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Optional    bool   `yaml:"optional"`
	Description string `yaml:"description"`
}

func readTaskFile(path string) (*TaskFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return parseTaskFile(content)
}

func parseTaskFile(content []byte) (*TaskFile, error) {
	var tf TaskFile
	if err := yaml.Unmarshal(content, &tf); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("task file declares no tasks")
	}
	if len(tf.Agents) == 0 {
		return nil, fmt.Errorf("task file declares no agents")
	}
	return &tf, nil
}

// BuildTasks converts the entries into engine tasks.
func (tf *TaskFile) BuildTasks() ([]*core.Task, error) {
	tasks := make([]*core.Task, 0, len(tf.Tasks))
	seen := make(map[string]struct{}, len(tf.Tasks))
	for i, entry := range tf.Tasks {
		if entry.Description == "" {
			return nil, fmt.Errorf("task %d: description is required", i)
		}
		if entry.ID != "" {
			if _, dup := seen[entry.ID]; dup {
				return nil, fmt.Errorf("task %d: duplicate id %q", i, entry.ID)
			}
			seen[entry.ID] = struct{}{}
		}

		fields := make([]schema.FieldSpec, 0, len(entry.Output))
		for _, f := range entry.Output {
			typ, err := schema.ParseFieldType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("task %d field %s: %w", i, f.Name, err)
			}
			fields = append(fields, schema.FieldSpec{
				Name:        f.Name,
				Type:        typ,
				Required:    !f.Optional,
				Description: f.Description,
			})
		}

		refs := make([]core.ContextRef, 0, len(entry.Knowledge))
		for _, text := range entry.Knowledge {
			refs = append(refs, core.KnowledgeRef(core.NewKnowledgeItem(text, "")))
		}
		tools := make([]core.ToolRef, 0, len(entry.Tools))
		for _, name := range entry.Tools {
			tools = append(tools, core.ToolRef{Name: name})
		}

		tasks = append(tasks, core.NewTask(entry.Description, schema.New(fields...), func(o *core.TaskOptions) {
			o.ID = entry.ID
			o.ToolRefs = tools
			o.ContextRefs = refs
			o.Requirements = entry.Requirements
		}))
	}
	return tasks, nil
}
