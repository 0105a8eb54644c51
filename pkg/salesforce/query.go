package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Lead represents a Salesforce Lead record. Conversion probability and
// estimated value come from custom fields maintained by the scoring
// integration.
type Lead struct {
	ID                    string  `json:"Id" salesforce:"Id"`
	FirstName             string  `json:"FirstName" salesforce:"FirstName"`
	LastName              string  `json:"LastName" salesforce:"LastName"`
	Company               string  `json:"Company" salesforce:"Company"`
	Status                string  `json:"Status" salesforce:"Status"`
	OwnerID               string  `json:"OwnerId" salesforce:"OwnerId"`
	AnnualRevenue         float64 `json:"AnnualRevenue" salesforce:"AnnualRevenue"`
	ConversionProbability float64 `json:"Conversion_Probability__c" salesforce:"Conversion_Probability__c"`
	EstimatedValue        float64 `json:"Estimated_Value__c" salesforce:"Estimated_Value__c"`
	LastActivityDate      string  `json:"LastActivityDate" salesforce:"LastActivityDate"`
	LastModifiedDate      string  `json:"LastModifiedDate" salesforce:"LastModifiedDate"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Company", "Status", "OwnerId",
	"AnnualRevenue", "Conversion_Probability__c", "Estimated_Value__c",
	"LastActivityDate", "LastModifiedDate",
}

// FindLeadByID queries Salesforce for a Lead by its ID.
// Returns nil if no lead is found.
func FindLeadByID(ctx context.Context, c Client, id string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Id = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(id),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by id %s", id))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// LeadsModifiedSince queries Salesforce for open Leads modified at or
// after the given instant, oldest first. limit caps the result size; 0
// means the Salesforce default.
func LeadsModifiedSince(ctx context.Context, c Client, since time.Time, limit int) ([]Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE IsConverted = false AND LastModifiedDate >= %s ORDER BY LastModifiedDate ASC",
		strings.Join(leadFields, ", "),
		soqlTime(since),
	)
	if limit > 0 {
		soql += fmt.Sprintf(" LIMIT %d", limit)
	}

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: leads modified since")
	}
	return leads, nil
}

// soqlTime formats a time as a SOQL datetime literal (unquoted, UTC).
func soqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
