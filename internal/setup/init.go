// Package setup scaffolds a migrun workspace.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/migrun/internal/model"
	atomicyaml "github.com/msageha/migrun/internal/yaml"
	"github.com/msageha/migrun/templates"
)

const (
	stateDir   = ".migrun"
	promptsDir = "prompts"
)

var promptTemplates = []string{templates.SessionPrompt, templates.CompatibilityCheck, templates.Verification}

// Options customize the generated files.
type Options struct {
	// TargetRepo fills executor.target_repo in the generated config.
	TargetRepo string
	// CustomPrompt also writes the session and check prompt templates to
	// prompts/ and points the executor config at them.
	CustomPrompt bool
}

// Run writes migrun.yaml, an example plan and the state directory into dir.
// It refuses to overwrite an existing config or plan.
func Run(dir string, opts Options) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve dir: %w", err)
	}

	configPath := filepath.Join(absDir, templates.ExampleConfig)
	planPath := filepath.Join(absDir, templates.ExamplePlan)
	for _, p := range []string{configPath, planPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s already exists", p)
		}
	}

	if err := os.MkdirAll(filepath.Join(absDir, stateDir), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", stateDir, err)
	}

	if err := copyTemplateFile(templates.ExamplePlan, planPath); err != nil {
		return err
	}

	if opts.CustomPrompt {
		if err := os.MkdirAll(filepath.Join(absDir, promptsDir), 0755); err != nil {
			return fmt.Errorf("create prompts dir: %w", err)
		}
		for _, name := range promptTemplates {
			if err := copyTemplateFile(name, filepath.Join(absDir, promptsDir, name)); err != nil {
				return err
			}
		}
	}

	if opts.TargetRepo == "" && !opts.CustomPrompt {
		// Keep the commented example as is.
		return copyTemplateFile(templates.ExampleConfig, configPath)
	}

	cfg, err := generateConfig(opts)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(configPath, cfg); err != nil {
		return fmt.Errorf("write %s: %w", templates.ExampleConfig, err)
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(opts Options) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, templates.ExampleConfig)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	cfg.Executor.TargetRepo = opts.TargetRepo
	if opts.CustomPrompt {
		cfg.Executor.PromptTemplate = filepath.Join(promptsDir, templates.SessionPrompt)
		cfg.Executor.CompatibilityCheck.PromptTemplate = filepath.Join(promptsDir, templates.CompatibilityCheck)
		cfg.Executor.Verification.PromptTemplate = filepath.Join(promptsDir, templates.Verification)
	}
	return &cfg, nil
}
