package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/molecpathlab/snsxt/internal/errkind"
)

// TaskEntry is one task-list item: a registered task name and the
// parameters given for it.
type TaskEntry struct {
	Name   string
	Params map[string]any
}

// Wait reports whether the task should block on its jobs. Controlled by the
// qsub_wait parameter, default true.
func (e TaskEntry) Wait() bool {
	if v, ok := e.Params["qsub_wait"].(bool); ok {
		return v
	}
	return true
}

// TaskList is a parsed task-list file. Entry order is the file order.
//
// Example:
//
//	sns:
//	  StartSns:
//	    fastq_dirs: [/data/run1/fastq]
//	    targets_bed: /data/targets.bed
//	  SnsWes:
//	tasks:
//	  GATKDepthOfCoverageCustom:
//	  Delly2:
//	    qsub_wait: false
//	setup_report: true
type TaskList struct {
	Path        string
	Sns         []TaskEntry
	Tasks       []TaskEntry
	SetupReport bool
}

// Names returns the names of all entries, sns stage first.
func (l *TaskList) Names() []string {
	names := make([]string, 0, len(l.Sns)+len(l.Tasks))
	for _, e := range l.Sns {
		names = append(names, e.Name)
	}
	for _, e := range l.Tasks {
		names = append(names, e.Name)
	}
	return names
}

// LoadTaskList reads and parses a task-list file.
func LoadTaskList(path string) (*TaskList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task list: %w", err)
	}
	list, err := ParseTaskList(data)
	if err != nil {
		return nil, fmt.Errorf("task list %s: %w", path, err)
	}
	list.Path = path
	return list, nil
}

// ParseTaskList parses task-list YAML. Stage sections may be a mapping of
// name to params or a sequence of names.
func ParseTaskList(data []byte) (*TaskList, error) {
	list := &TaskList{}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse task list: %w", err)
	}
	if len(doc.Content) == 0 {
		return list, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errkind.New(errkind.ErrArgument, "task list must be a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "sns":
			entries, err := parseEntries(value)
			if err != nil {
				return nil, fmt.Errorf("sns: %w", err)
			}
			list.Sns = entries
		case "tasks":
			entries, err := parseEntries(value)
			if err != nil {
				return nil, fmt.Errorf("tasks: %w", err)
			}
			list.Tasks = entries
		case "setup_report":
			if err := value.Decode(&list.SetupReport); err != nil {
				return nil, fmt.Errorf("setup_report: %w", err)
			}
		default:
			return nil, errkind.New(errkind.ErrArgument, "unknown task list key", key.Value)
		}
	}
	return list, nil
}

func parseEntries(node *yaml.Node) ([]TaskEntry, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
		return []TaskEntry{{Name: node.Value}}, nil

	case yaml.MappingNode:
		entries := make([]TaskEntry, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			entry, err := parseEntry(node.Content[i].Value, node.Content[i+1])
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return entries, nil

	case yaml.SequenceNode:
		entries := make([]TaskEntry, 0, len(node.Content))
		for _, item := range node.Content {
			switch {
			case item.Kind == yaml.ScalarNode:
				entries = append(entries, TaskEntry{Name: item.Value})
			case item.Kind == yaml.MappingNode && len(item.Content) == 2:
				entry, err := parseEntry(item.Content[0].Value, item.Content[1])
				if err != nil {
					return nil, err
				}
				entries = append(entries, entry)
			default:
				return nil, fmt.Errorf("line %d: expected a task name or a single-key mapping", item.Line)
			}
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("line %d: expected a mapping or a sequence", node.Line)
	}
}

func parseEntry(name string, value *yaml.Node) (TaskEntry, error) {
	entry := TaskEntry{Name: name}
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return entry, nil
	}
	if value.Kind != yaml.MappingNode {
		return entry, fmt.Errorf("%s: params must be a mapping (line %d)", name, value.Line)
	}
	if err := value.Decode(&entry.Params); err != nil {
		return entry, fmt.Errorf("%s: %w", name, err)
	}
	return entry, nil
}
