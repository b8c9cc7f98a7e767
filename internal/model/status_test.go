package model

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{"complete", StatusComplete},
		{"completed", StatusComplete},
		{"Done", StatusComplete},
		{" merged ", StatusComplete},
		{"not-complete", StatusNotComplete},
		{"pending", StatusNotComplete},
		{"in_progress", StatusNotComplete},
		{"99%", StatusNotComplete},
		{"", StatusNotComplete},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeStatus(tt.raw); got != tt.want {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStatus_UnmarshalYAML(t *testing.T) {
	var task Task
	if err := yaml.Unmarshal([]byte("id: migrate_001\nstatus: in_progress\n"), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Status != StatusNotComplete {
		t.Errorf("status = %q, want %q", task.Status, StatusNotComplete)
	}

	if err := yaml.Unmarshal([]byte("id: migrate_001\nstatus: completed\n"), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !task.IsComplete() {
		t.Errorf("status = %q, want complete", task.Status)
	}
}

func TestStatus_MissingIsNotComplete(t *testing.T) {
	var task Task
	if err := yaml.Unmarshal([]byte("id: setup_001\n"), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.IsComplete() {
		t.Error("task without status should be not-complete")
	}
	if task.Status.String() != "not-complete" {
		t.Errorf("String() = %q, want not-complete", task.Status.String())
	}
}
