// Package task removes deprecated pe_repo platform classes from the
// "PE Master" node group.
package task

import (
	"context"
	"net/http"

	"github.com/mpilhlt/pe-platform-classes/internal/classifier"
	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/sirupsen/logrus"
)

// Classifier is the part of the classifier API the remover needs.
type Classifier interface {
	ListGroups(ctx context.Context) ([]models.NodeGroup, error)
	UpdateGroup(ctx context.Context, id string, payload models.ClassRemovalRequest) (*classifier.Response, error)
}

// Remover strips classes with a given prefix from one node group.
type Remover struct {
	Classifier Classifier
	Group      string
	Prefix     string
	// Noop reports the selection without updating the group.
	Noop bool
	Log  logrus.FieldLogger
}

// New returns a remover for the group and prefix in options, falling back to
// "PE Master" and "pe_repo::platform::".
func New(c Classifier, options *models.Options, log logrus.FieldLogger) *Remover {
	r := &Remover{
		Classifier: c,
		Group:      options.Group,
		Prefix:     options.Prefix,
		Log:        log,
	}
	if r.Group == "" {
		r.Group = models.DefaultGroup
	}
	if r.Prefix == "" {
		r.Prefix = models.DefaultPrefix
	}
	return r
}

// Run performs the removal: one GET for the group listing and, if the group
// carries matching classes, one POST unsetting them.
func (r *Remover) Run(ctx context.Context) (*models.TaskResult, error) {
	log := r.logger()

	groups, err := r.Classifier.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	group, ok := models.FindGroup(groups, r.Group)
	if !ok {
		return nil, models.NewTaskError(models.KindNotFound, nil, "%s group not found!", r.Group)
	}
	log = log.WithFields(logrus.Fields{"group": group.Name, "group_id": group.ID})

	platformClasses := group.Classes.WithPrefix(r.Prefix)
	if len(platformClasses) == 0 {
		log.Info("No platform classes found")
		return models.NewSuccess(models.MsgNoPlatformClasses, nil), nil
	}
	log = log.WithField("classes", platformClasses)

	if r.Noop {
		log.Info("Noop run, leaving group unchanged")
		return models.NewSuccess(models.MsgWouldRemove, platformClasses), nil
	}

	resp, err := r.Classifier.UpdateGroup(ctx, group.ID, models.NewClassRemovalRequest(platformClasses))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		te := models.NewTaskError(models.KindUpdateFailed, nil,
			"Failed to update the group. Response: %d - %s", resp.StatusCode, string(resp.Body))
		te.Details = map[string]any{"status": resp.StatusCode, "group_id": group.ID}
		return nil, te
	}

	log.Info("Removed platform classes")
	return models.NewSuccess(models.MsgRemoved, platformClasses), nil
}

func (r *Remover) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}
