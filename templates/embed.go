// Package templates embeds the default session prompts, example config and
// example plan.
package templates

import "embed"

//go:embed session_prompt.md.tmpl compatibility_check.md.tmpl completion_verification.md.tmpl migrun.yaml migration_plan.yaml
var FS embed.FS

const (
	SessionPrompt      = "session_prompt.md.tmpl"
	CompatibilityCheck = "compatibility_check.md.tmpl"
	Verification       = "completion_verification.md.tmpl"
	ExampleConfig      = "migrun.yaml"
	ExamplePlan        = "migration_plan.yaml"
)
