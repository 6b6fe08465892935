package types

import (
	"time"

	"github.com/google/uuid"
)

// FloorPlan is one generated artifact. Only object keys are stored, never image bytes.
type FloorPlan struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"userId"`
	StagingStyle      string     `json:"stagingStyle"`
	FurnishingDensity string     `json:"furnishingDensity"`
	ColorTone         string     `json:"colorTone"`
	Angle             string     `json:"angle"`
	AdditionalNotes   *string    `json:"additionalNotes,omitempty"`
	ReferenceS3Key    string     `json:"referenceS3Key"`
	GeneratedS3Key    string     `json:"generatedS3Key"`
	IsFavorite        bool       `json:"isFavorite"`
	IsArchived        bool       `json:"isArchived"`
	FolderID          *uuid.UUID `json:"folderId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`

	ReferenceURL string `json:"referenceUrl,omitempty"`
	GeneratedURL string `json:"generatedUrl,omitempty"`
}

// CreateFloorPlanParams holds the metadata for the save-to-library step.
type CreateFloorPlanParams struct {
	StagingOptions
	ReferenceS3Key string
	GeneratedS3Key string
	FolderID       *uuid.UUID
}

// UpdateFloorPlanParams is a partial update; nil fields are left untouched.
type UpdateFloorPlanParams struct {
	IsFavorite      *bool      `json:"isFavorite,omitempty"`
	IsArchived      *bool      `json:"isArchived,omitempty"`
	FolderID        *uuid.UUID `json:"folderId,omitempty"`
	ClearFolder     bool       `json:"clearFolder,omitempty"`
	AdditionalNotes *string    `json:"additionalNotes,omitempty"`
}

// FloorPlanFilter narrows library listings.
type FloorPlanFilter struct {
	FolderID   *uuid.UUID
	IsFavorite *bool
	IsArchived *bool
	Limit      uint64
	Offset     uint64
}

// Upload is the stored reference image returned by POST /uploads.
type Upload struct {
	Key string `json:"key"`
	URL string `json:"url"`
}
