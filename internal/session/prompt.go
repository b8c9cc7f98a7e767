package session

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/msageha/migrun/internal/model"
	"github.com/msageha/migrun/templates"
)

// PromptRenderer turns a task and its batch peers into session instructions.
type PromptRenderer struct {
	tmpl       *template.Template
	targetRepo string
	planPath   string
}

type promptData struct {
	Task         *model.Task
	Peers        []*model.Task
	Deliverables []string
	TargetRepo   string
	PlanPath     string
}

// NewPromptRenderer parses the template at path, or the embedded default
// when path is empty.
func NewPromptRenderer(path, targetRepo, planPath string) (*PromptRenderer, error) {
	var (
		text []byte
		err  error
	)
	if path == "" {
		text, err = templates.FS.ReadFile(templates.SessionPrompt)
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	tmpl, err := template.New("session").Option("missingkey=error").Parse(string(text))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &PromptRenderer{tmpl: tmpl, targetRepo: targetRepo, planPath: planPath}, nil
}

func (r *PromptRenderer) Render(task *model.Task, peers []*model.Task) (string, error) {
	data := promptData{
		Task:         task,
		Deliverables: task.Deliverables.Normalized(),
		TargetRepo:   r.targetRepo,
		PlanPath:     r.planPath,
	}
	for _, p := range peers {
		if p != nil && p.ID != task.ID {
			data.Peers = append(data.Peers, p)
		}
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", task.ID, err)
	}
	return buf.String(), nil
}
