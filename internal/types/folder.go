package types

import (
	"time"

	"github.com/google/uuid"
)

// Folder groups floor plans. Deleting it detaches its plans instead of removing them.
type Folder struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name"`
	PlanCount int       `json:"planCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateFolderRequest struct {
	Name string `json:"name"`
}

type RenameFolderRequest struct {
	Name string `json:"name"`
}
