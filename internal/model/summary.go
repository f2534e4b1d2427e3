package model

import "time"

// ContactSummary is the user-visible outcome of processing one contact.
// Per-batch failures are absorbed here; they never abort sibling contacts.
type ContactSummary struct {
	ContactID string `json:"contact_id"`

	BatchesCompleted int `json:"batches_completed"`
	BatchesSkipped   int `json:"batches_skipped"`
	BatchesFailed    int `json:"batches_failed"`

	RecordsProcessed int `json:"records_processed"`
	RecordsSkipped   int `json:"records_skipped"`

	EstInputTokens    int     `json:"est_input_tokens"`
	EstInsightsTokens int     `json:"est_insights_tokens"`
	GenerationSeconds float64 `json:"generation_seconds"`

	Errors []string `json:"errors,omitempty"`

	// Fatal marks a contact-level abort (claim unattainable, latest insight
	// unloadable) before any batch was attempted.
	Fatal bool `json:"fatal,omitempty"`
}

// Succeeded reports whether the contact completed with no failed batches and
// no fatal error.
func (s ContactSummary) Succeeded() bool {
	return !s.Fatal && s.BatchesFailed == 0 && len(s.Errors) == 0
}

// RunSummary aggregates contact summaries across one processing run.
type RunSummary struct {
	RunID string `json:"run_id"`

	TotalContacts      int `json:"total_contacts"`
	SuccessfulContacts int `json:"successful_contacts"`
	FailedContacts     int `json:"failed_contacts"`
	DeferredContacts   int `json:"deferred_contacts"`

	BatchesCompleted int `json:"batches_completed"`
	BatchesSkipped   int `json:"batches_skipped"`
	BatchesFailed    int `json:"batches_failed"`
	RecordsProcessed int `json:"records_processed"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Contacts []ContactSummary `json:"contacts,omitempty"`
}
