package models

// Task status values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Result messages
const (
	MsgNoPlatformClasses = "No platform classes found."
	MsgRemoved           = "Removed platform classes successfully."
	MsgWouldRemove       = "Would remove platform classes."
)

// TaskParams are the parameters Bolt passes to the task.
type TaskParams struct {
	Noop bool `json:"_noop,omitempty" doc:"Report what would be removed without changing the group"`
}

// TaskResult is the single output of a task run.
type TaskResult struct {
	Status         string   `json:"status" doc:"success or failure"`
	Message        string   `json:"message" doc:"Human readable outcome"`
	RemovedClasses []string `json:"removed_classes" doc:"Classes removed from the group, in group order"`
}

// NewSuccess builds a successful result. A nil list is reported as empty.
func NewSuccess(message string, removed []string) *TaskResult {
	if removed == nil {
		removed = []string{}
	}
	return &TaskResult{Status: StatusSuccess, Message: message, RemovedClasses: removed}
}

// NewFailure builds a failed result from an error, with the message Bolt reports.
func NewFailure(err error) *TaskResult {
	return &TaskResult{Status: StatusFailure, Message: ErrorMessage(err), RemovedClasses: []string{}}
}

// ClassRemovalRequest is the update payload unsetting classes on a group.
// Every class maps to null.
type ClassRemovalRequest struct {
	Classes ClassMap `json:"classes" doc:"Classes to unset, each mapped to null"`
}

// NewClassRemovalRequest builds a removal payload for the given class names.
func NewClassRemovalRequest(names []string) ClassRemovalRequest {
	return ClassRemovalRequest{Classes: NewClassMap(names...)}
}
