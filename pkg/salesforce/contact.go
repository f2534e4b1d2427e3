package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Contact is the subset of a Salesforce Contact record the pipeline reads.
type Contact struct {
	ID         string `json:"Id" salesforce:"Id"`
	Name       string `json:"Name" salesforce:"Name"`
	ExternalID string `json:"Member_Contact_ID__c" salesforce:"Member_Contact_ID__c"`
}

// FindContactByExternalID queries Salesforce for the Contact carrying the
// member platform's contact id. Returns nil if no contact matches.
func FindContactByExternalID(ctx context.Context, c Client, contactID string) (*Contact, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Name, Member_Contact_ID__c FROM Contact WHERE Member_Contact_ID__c = '%s' LIMIT 1",
		escapeSoql(contactID),
	)

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find contact %s", contactID))
	}
	if len(contacts) == 0 {
		return nil, nil
	}
	return &contacts[0], nil
}

// UpdateMemberSummary writes the consolidated summary text into the given
// field on a Contact record.
func UpdateMemberSummary(ctx context.Context, c Client, sfContactID, field, summary string) error {
	if sfContactID == "" {
		return eris.New("sf: contact id is required")
	}
	if field == "" {
		return eris.New("sf: summary field is required")
	}
	if err := c.UpdateOne(ctx, "Contact", sfContactID, map[string]any{field: summary}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update member summary %s", sfContactID))
	}
	return nil
}

// ValidateSummaryField confirms the configured summary field exists on the
// Contact object and is updateable.
func ValidateSummaryField(ctx context.Context, c Client, field string) error {
	desc, err := c.DescribeSObject(ctx, "Contact")
	if err != nil {
		return eris.Wrap(err, "sf: validate summary field")
	}
	for _, f := range desc.Fields {
		if f.Name == field {
			if !f.Updateable {
				return eris.Errorf("sf: field %s is not updateable", field)
			}
			return nil
		}
	}
	return eris.Errorf("sf: field %s not found on Contact", field)
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
