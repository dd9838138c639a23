package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/docdaemon/internal/errors"
)

// Project describes one tracked documentation repository.
type Project struct {
	Name          string   `yaml:"name"`
	Branch        string   `yaml:"branch"`
	RepoDir       string   `yaml:"repo_dir"`
	LastRev       string   `yaml:"last_rev,omitempty"`
	DCFiles       []string `yaml:"dc_files"`
	NotifyTargets []string `yaml:"notify_targets,omitempty"`
}

// Clone returns a deep copy, safe to hand to concurrently running jobs.
func (p Project) Clone() Project {
	cp := p
	cp.DCFiles = append([]string(nil), p.DCFiles...)
	cp.NotifyTargets = append([]string(nil), p.NotifyTargets...)
	return cp
}

// autoBuildFile mirrors the on-disk autobuild configuration.
type autoBuildFile struct {
	Projects []Project `yaml:"projects"`
}

// AutoBuildConfig holds the tracked projects and persists revision updates
// back to its file. All access goes through its own lock, independent of the
// daemon state lock.
type AutoBuildConfig struct {
	mu       sync.Mutex
	path     string
	projects []Project
}

// LoadAutoBuild reads and validates the autobuild configuration file.
// Any failure here is a fatal configuration error.
func LoadAutoBuild(path string) (*AutoBuildConfig, error) {
	if path == "" {
		return nil, errors.ConfigError("no autobuild configuration file specified")
	}

	cfg := &AutoBuildConfig{path: path}
	if err := cfg.reload(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the file, swapping the project set atomically. Revisions
// already observed in memory are kept for projects still present so a reload
// does not retrigger builds.
func (c *AutoBuildConfig) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := make(map[string]string, len(c.projects))
	for _, p := range c.projects {
		previous[p.Name] = p.LastRev
	}

	if err := c.reloadLocked(); err != nil {
		return err
	}

	for i := range c.projects {
		if rev, ok := previous[c.projects[i].Name]; ok && rev != "" {
			c.projects[i].LastRev = rev
		}
	}
	return nil
}

func (c *AutoBuildConfig) reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadLocked()
}

func (c *AutoBuildConfig) reloadLocked() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("autobuild configuration unreadable: %s", c.path))
	}

	var file autoBuildFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("autobuild configuration invalid: %s", c.path))
	}

	for _, p := range file.Projects {
		if err := validateProject(p); err != nil {
			return err
		}
	}

	c.projects = file.Projects
	return nil
}

func validateProject(p Project) error {
	switch {
	case p.Name == "":
		return errors.ConfigError("autobuild project without a name")
	case p.Branch == "":
		return errors.ConfigError(fmt.Sprintf("project %s: no branch configured", p.Name))
	case p.RepoDir == "":
		return errors.ConfigError(fmt.Sprintf("project %s: no repository directory configured", p.Name))
	case len(p.DCFiles) == 0:
		return errors.ConfigError(fmt.Sprintf("project %s: no DC files declared", p.Name))
	}
	return nil
}

// Path returns the file backing this configuration.
func (c *AutoBuildConfig) Path() string { return c.path }

// Projects returns deep copies of the tracked projects.
func (c *AutoBuildConfig) Projects() []Project {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p.Clone())
	}
	return out
}

// UpdateCommitHash records the new revision for a project and persists the
// whole configuration back to disk.
func (c *AutoBuildConfig) UpdateCommitHash(project, commit string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for i := range c.projects {
		if c.projects[i].Name == project {
			c.projects[i].LastRev = commit
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown project: %s", project)
	}

	data, err := yaml.Marshal(autoBuildFile{Projects: c.projects})
	if err != nil {
		return fmt.Errorf("marshal autobuild config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("persist autobuild config: %w", err)
	}
	return nil
}
