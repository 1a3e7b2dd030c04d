package tasks

import (
	"fmt"
	"sort"

	"github.com/molecpathlab/snsxt/internal/config"
	"github.com/molecpathlab/snsxt/internal/errkind"
)

// Stage says what a task runs against.
type Stage int

const (
	// StageSns tasks drive the upstream sns pipeline inside an analysis
	// dir that may not be a complete analysis yet.
	StageSns Stage = iota
	// StageAnalysis tasks run against a validated analysis.
	StageAnalysis
)

func (s Stage) String() string {
	if s == StageSns {
		return "sns"
	}
	return "analysis"
}

// Factory builds a task from its spec.
type Factory func(env *Env, spec Spec) (Task, error)

// Registration is one registry entry.
type Registration struct {
	Name        string
	Stage       Stage
	Description string
	New         Factory
}

// Registry maps task-list names to task implementations.
type Registry struct {
	entries map[string]Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds reg. Names are unique.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || reg.New == nil {
		return errkind.New(errkind.ErrArgument, "registration needs a name and a factory")
	}
	if _, exists := r.entries[reg.Name]; exists {
		return errkind.New(errkind.ErrArgument, "task already registered", reg.Name)
	}
	r.entries[reg.Name] = reg
	return nil
}

// Lookup returns the registration for name or an ErrUnknownTask error.
func (r *Registry) Lookup(name string) (Registration, error) {
	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, errkind.New(errkind.ErrUnknownTask, "no task is registered under this name", name)
	}
	return reg, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAll looks up every entry so an unknown name fails before any task
// runs.
func (r *Registry) CheckAll(entries []config.TaskEntry, stage Stage) error {
	var unknown, misplaced []string
	for _, e := range entries {
		reg, err := r.Lookup(e.Name)
		if err != nil {
			unknown = append(unknown, e.Name)
			continue
		}
		if reg.Stage != stage {
			misplaced = append(misplaced, fmt.Sprintf("%s (%s task)", e.Name, reg.Stage))
		}
	}
	if len(unknown) > 0 {
		return errkind.New(errkind.ErrUnknownTask, "no task is registered under these names", unknown...)
	}
	if len(misplaced) > 0 {
		return errkind.New(errkind.ErrArgument, fmt.Sprintf("tasks listed under the %s stage", stage), misplaced...)
	}
	return nil
}

// Build creates the task for entry. Settings come from the task's YAML file
// in tasks_config_dir with the entry params applied on top.
func (r *Registry) Build(env *Env, entry config.TaskEntry, spec Spec) (Task, error) {
	reg, err := r.Lookup(entry.Name)
	if err != nil {
		return nil, err
	}
	if reg.Stage == StageAnalysis && spec.Analysis == nil {
		return nil, errkind.New(errkind.ErrArgument, "analysis task needs a loaded analysis", entry.Name)
	}

	if spec.Settings == nil {
		dir := ""
		if env.Config != nil {
			dir = env.Config.TasksConfigDir
		}
		settings, err := config.LoadTaskSettings(dir, entry.Name, entry.Params)
		if err != nil {
			return nil, err
		}
		spec.Settings = settings
	}
	return reg.New(env, spec)
}
