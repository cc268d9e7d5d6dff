package model

import "time"

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

// Campaign status constants
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign represents a stored email template addressed to a recipient list
type Campaign struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Name            string          `json:"name"`
	SubjectTemplate string          `json:"subjectTemplate"`
	BodyTemplate    string          `json:"bodyTemplate"`
	Status          CampaignStatus  `json:"status"`
	DailyLimit      int             `json:"dailyLimit"`
	DelayMinSeconds int             `json:"delayMinSeconds"`
	DelayMaxSeconds int             `json:"delayMaxSeconds"`
	Attachments     []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// AttachmentRef points at a file uploaded before dispatch. The dispatch
// engine only reads it.
type AttachmentRef struct {
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"sizeBytes"`
	StoragePath string `json:"storagePath"`
}
