package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

// DryRunExecutor renders the prompt a real submission would send and returns
// a synthetic handle without contacting any service.
type DryRunExecutor struct {
	prompts *PromptRenderer
	logger  *logging.Logger
}

func NewDryRunExecutor(prompts *PromptRenderer, logger *logging.Logger) *DryRunExecutor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DryRunExecutor{prompts: prompts, logger: logger}
}

func (e *DryRunExecutor) Submit(ctx context.Context, task *model.Task, peers []*model.Task) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if e.prompts != nil {
		prompt, err := e.prompts.Render(task, peers)
		if err != nil {
			return Handle{}, err
		}
		e.logger.Debug("dry_run_prompt task=%s bytes=%d", task.ID, len(prompt))
	}
	h := Handle{TaskID: task.ID, SessionID: "dry-run-" + uuid.NewString()}
	e.logger.Info("dry_run_submit task=%s peers=%d session=%s", task.ID, len(peers), h.SessionID)
	return h, nil
}
