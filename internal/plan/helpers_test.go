package plan

import "github.com/msageha/migrun/internal/model"

// task builds a well-formed task so tests only spell out what they check.
func task(id string, deps ...string) *model.Task {
	return &model.Task{
		ID:        id,
		Title:     "Task " + id,
		Content:   "Do the work for " + id,
		DependsOn: deps,
	}
}

func graph(tasks ...*model.Task) *model.TaskGraph {
	return model.NewTaskGraph("test", tasks)
}

func indexOf(slice []string, val string) int {
	for i, v := range slice {
		if v == val {
			return i
		}
	}
	return -1
}
