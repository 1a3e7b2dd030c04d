package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/molecpathlab/snsxt/internal/errkind"
)

// TaskSettings are the merged settings of one task: its YAML file from
// tasks_config_dir overlaid with the parameters given in the task list.
type TaskSettings struct {
	Name string

	// Path is the task's YAML file, or "" when the task has none.
	Path string

	values map[string]any
}

// TaskConfigPath returns the expected config file for a task.
func TaskConfigPath(dir, taskName string) string {
	return filepath.Join(dir, taskName+".yml")
}

// LoadTaskSettings reads <dir>/<taskName>.yml, if present, and applies
// params on top. A task without a config file gets params only.
func LoadTaskSettings(dir, taskName string, params map[string]any) (*TaskSettings, error) {
	s := &TaskSettings{Name: taskName, values: make(map[string]any)}

	if dir != "" {
		path := TaskConfigPath(dir, taskName)
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read task config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &s.values); err != nil {
				return nil, fmt.Errorf("failed to parse task config %s: %w", path, err)
			}
			if s.values == nil {
				s.values = make(map[string]any)
			}
			s.Path = path
		}
	}

	for k, v := range params {
		s.values[k] = v
	}
	return s, nil
}

// NewTaskSettings builds settings from values directly.
func NewTaskSettings(name string, values map[string]any) *TaskSettings {
	s := &TaskSettings{Name: name, values: make(map[string]any, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Has reports whether key is set to a non-null value.
func (s *TaskSettings) Has(key string) bool {
	v, ok := s.values[key]
	return ok && v != nil
}

// Raw returns the decoded value for key.
func (s *TaskSettings) Raw(key string) any {
	return s.values[key]
}

// Keys returns the setting names in sorted order.
func (s *TaskSettings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns key as a string, or "" when unset.
func (s *TaskSettings) String(key string) string {
	switch v := s.values[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns key as a list. A scalar becomes a one-element list.
func (s *TaskSettings) Strings(key string) []string {
	switch v := s.values[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return []string{s.String(key)}
	}
}

// Int returns key as an int, or def when unset or not a number.
func (s *TaskSettings) Int(key string, def int) int {
	n, ok := toInt(s.values[key])
	if !ok {
		return def
	}
	return n
}

// Ints returns key as a list of ints, skipping items that are not numbers.
func (s *TaskSettings) Ints(key string) []int {
	var out []int
	switch v := s.values[key].(type) {
	case []any:
		for _, item := range v {
			if n, ok := toInt(item); ok {
				out = append(out, n)
			}
		}
	default:
		if n, ok := toInt(v); ok {
			out = append(out, n)
		}
	}
	return out
}

// Bool returns key as a bool, or def when unset.
func (s *TaskSettings) Bool(key string, def bool) bool {
	switch v := s.values[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Pairs returns a list of two-element lists, e.g. [[name, arg], ...].
func (s *TaskSettings) Pairs(key string) ([][2]string, error) {
	list, ok := s.values[key].([]any)
	if !ok {
		if s.values[key] == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: expected a list of pairs", key)
	}
	out := make([][2]string, 0, len(list))
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%s[%d]: expected a two-element list", key, i)
		}
		out = append(out, [2]string{fmt.Sprint(pair[0]), fmt.Sprint(pair[1])})
	}
	return out, nil
}

// Require returns an ErrArgument error naming every missing key.
func (s *TaskSettings) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if !s.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errkind.New(errkind.ErrArgument, fmt.Sprintf("task %s is missing settings", s.Name), missing...)
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
