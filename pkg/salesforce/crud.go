package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// UpdateLead updates a Lead record with the given fields.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Lead", leadID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}

// CreateTask creates a follow-up Task on the given Lead and returns the
// new Salesforce ID. The alert engine uses this to push recommended
// actions back into the CRM.
func CreateTask(ctx context.Context, c Client, leadID, subject string, fields map[string]any) (string, error) {
	if leadID == "" {
		return "", eris.New("sf: lead id is required for task")
	}
	if subject == "" {
		return "", eris.New("sf: task subject is required")
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["WhoId"] = leadID
	fields["Subject"] = subject
	id, err := c.InsertOne(ctx, "Task", fields)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create task for lead %s", leadID))
	}
	return id, nil
}
