// Package plan validates migration task graphs before they are scheduled.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/msageha/migrun/internal/model"
)

// Validate runs every structural and advisory check against g, in order:
// duplicate IDs, naming convention, field shape, referential integrity,
// self-dependency, cycles, orphaned validators. Each check reports all of its
// violations. Validate never mutates g and never panics on malformed input.
func Validate(g *model.TaskGraph, rules model.ValidationConfig) *Result {
	res := &Result{}
	if g == nil {
		res.Add(KindNoGraph, nil, "no task graph was loaded")
		return res
	}
	rules = withDefaultRules(rules)

	validateUniqueIDs(g, res)
	validateNaming(g, rules, res)
	validateFields(g, rules, res)
	validateReferences(g, res)
	validateNoSelfDependency(g, res)
	validateAcyclic(g, res)
	validateOrphanedValidators(g, rules, res)

	return res
}

func withDefaultRules(rules model.ValidationConfig) model.ValidationConfig {
	def := model.DefaultConfig().Validation
	if len(rules.Categories) == 0 {
		rules.Categories = def.Categories
	}
	if len(rules.ValidatorCategories) == 0 {
		rules.ValidatorCategories = def.ValidatorCategories
	}
	if rules.MaxTitleWords <= 0 {
		rules.MaxTitleWords = def.MaxTitleWords
	}
	if rules.MaxContentChars <= 0 {
		rules.MaxContentChars = def.MaxContentChars
	}
	return rules
}

func validateUniqueIDs(g *model.TaskGraph, res *Result) {
	counts := make(map[string]int)
	var order []string
	for _, t := range g.Tasks() {
		if t.ID == "" {
			continue
		}
		if counts[t.ID] == 0 {
			order = append(order, t.ID)
		}
		counts[t.ID]++
	}
	for _, id := range order {
		if counts[id] > 1 {
			res.Add(KindDuplicateID, []string{id}, fmt.Sprintf("task ID %q is used by %d tasks", id, counts[id]))
		}
	}
}

func validateNaming(g *model.TaskGraph, rules model.ValidationConfig, res *Result) {
	allowed := toSet(rules.Categories)
	for _, t := range g.Tasks() {
		if t.ID == "" {
			continue
		}
		parsed, err := model.ParseTaskID(t.ID)
		if err != nil {
			res.Add(KindNamingConvention, []string{t.ID}, err.Error())
			continue
		}
		if !allowed[parsed.Category] {
			res.Add(KindNamingConvention, []string{t.ID},
				fmt.Sprintf("category %q is not one of [%s]", parsed.Category, strings.Join(rules.Categories, ", ")))
		}
	}
}

func validateFields(g *model.TaskGraph, rules model.ValidationConfig, res *Result) {
	for i, t := range g.Tasks() {
		if t.ID == "" {
			res.Add(KindMissingID, nil, fmt.Sprintf("tasks[%d]: required field id is missing", i))
			continue
		}
		ids := []string{t.ID}
		title := strings.TrimSpace(t.Title)
		switch {
		case title == "":
			res.Add(KindFieldShape, ids, "required field title is missing")
		case len(strings.Fields(title)) > rules.MaxTitleWords:
			res.Add(KindFieldShape, ids,
				fmt.Sprintf("title has %d words, limit is %d", len(strings.Fields(title)), rules.MaxTitleWords))
		}
		body := t.Body()
		switch {
		case strings.TrimSpace(body) == "":
			res.Add(KindFieldShape, ids, "required field content (or action) is missing")
		case utf8.RuneCountInString(body) > rules.MaxContentChars:
			res.Add(KindFieldShape, ids,
				fmt.Sprintf("content has %d characters, limit is %d", utf8.RuneCountInString(body), rules.MaxContentChars))
		}
		if t.EstimatedHours < 0 {
			res.Add(KindFieldShape, ids,
				fmt.Sprintf("estimated_hours must be positive, got %g", t.EstimatedHours))
		}
	}
}

func validateReferences(g *model.TaskGraph, res *Result) {
	for _, t := range g.Tasks() {
		for _, dep := range t.Dependencies() {
			if dep == t.ID || g.Has(dep) {
				continue
			}
			res.Add(KindMissingReference, []string{t.ID, dep},
				fmt.Sprintf("%s depends on unknown task %q", displayID(t.ID), dep))
		}
	}
}

func validateNoSelfDependency(g *model.TaskGraph, res *Result) {
	for _, t := range g.Tasks() {
		if t.ID == "" {
			continue
		}
		for _, dep := range t.Dependencies() {
			if dep == t.ID {
				res.Add(KindSelfDependency, []string{t.ID}, "self-reference is not allowed")
				break
			}
		}
	}
}

func validateAcyclic(g *model.TaskGraph, res *Result) {
	for _, cycle := range FindCycles(g) {
		members := append([]string(nil), cycle[:len(cycle)-1]...)
		sort.Strings(members)
		res.Add(KindCycle, members,
			fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")))
	}
}

func validateOrphanedValidators(g *model.TaskGraph, rules model.ValidationConfig, res *Result) {
	validatorCats := toSet(rules.ValidatorCategories)
	depended := make(map[string]bool)
	for _, t := range g.Tasks() {
		for _, dep := range t.DependsOn {
			if dep != t.ID {
				depended[dep] = true
			}
		}
	}
	for _, id := range g.IDs() {
		if !validatorCats[model.CategoryOf(id)] || depended[id] {
			continue
		}
		res.Add(KindOrphanedValidator, []string{id},
			"validator task is not a dependency of any other task, so nothing it validates waits for it")
	}
}

func displayID(id string) string {
	if id == "" {
		return "task without id"
	}
	return id
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
