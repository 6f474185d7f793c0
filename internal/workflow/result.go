package workflow

import "github.com/tuannvm/ado-ai/internal/models"

// MsgUserCancelled is the error message of a declined run.
const MsgUserCancelled = "User cancelled changes"

// Result is the outcome of a run. Runs never return errors; failures are
// reported through Success and ErrorMessage.
type Result struct {
	RunID        string                 `json:"run_id"`
	Success      bool                   `json:"success"`
	WorkItemID   int                    `json:"work_item_id"`
	WorkItem     *models.WorkItem       `json:"work_item,omitempty"`
	Analysis     *models.AnalysisResult `json:"analysis,omitempty"`
	Update       *models.UpdateOutcome  `json:"update,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	// Err is the typed cause of a failure, for callers that categorize it.
	Err error `json:"-"`
}
