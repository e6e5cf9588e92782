package models

import (
	"time"

	"github.com/google/uuid"
)

// RemovalRun is one recorded task run.
type RemovalRun struct {
	ID             int64     `json:"id" doc:"System identifier of the run"`
	RunID          uuid.UUID `json:"run_id" doc:"Unique run identifier"`
	Certname       string    `json:"certname" doc:"Certname of the node the task ran on"`
	GroupName      string    `json:"group_name" doc:"Name of the node group the run worked on"`
	Status         string    `json:"status" doc:"success or failure"`
	Kind           string    `json:"kind,omitempty" doc:"Error kind of a failed run"`
	Message        string    `json:"message" doc:"Outcome message"`
	RemovedClasses []string  `json:"removed_classes" doc:"Classes removed (or selected, for noop runs)"`
	Noop           bool      `json:"noop" doc:"Whether the run was a noop run"`
	CreatedAt      time.Time `json:"created_at" doc:"Time the run was recorded"`
}
