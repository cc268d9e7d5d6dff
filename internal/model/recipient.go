package model

import "time"

// RecipientStatus is the delivery state of one recipient within a campaign
type RecipientStatus string

// Recipient status constants. Sent and failed are terminal for a campaign.
const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Recipient represents one addressee of a campaign
type Recipient struct {
	ID         string            `json:"id"`
	CampaignID string            `json:"campaignId"`
	Email      string            `json:"email"`
	Name       string            `json:"name,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	Status     RecipientStatus   `json:"status"`
	LastError  *string           `json:"lastError,omitempty"`
	Position   int               `json:"position"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// TemplateVars returns the variables used to personalize this recipient's
// message. The built-in "email" and "name" keys are present unless the
// recipient's own variables override them.
func (r *Recipient) TemplateVars() map[string]string {
	vars := make(map[string]string, len(r.Variables)+2)
	vars["email"] = r.Email
	if r.Name != "" {
		vars["name"] = r.Name
	}
	for k, v := range r.Variables {
		vars[k] = v
	}
	return vars
}

// RecipientCounts holds per-status recipient totals for a campaign
type RecipientCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
