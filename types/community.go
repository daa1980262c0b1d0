package types

import (
	"time"
)

type Community struct {
	ID        string    `json:"id" bson:"id"`
	Name      string    `json:"name" bson:"name"`
	Owner     string    `json:"owner" bson:"owner"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Member struct {
	CommunityID string    `json:"communityId" bson:"communityId"`
	UserID      string    `json:"userId" bson:"userId"`
	JoinedAt    time.Time `json:"joinedAt" bson:"joinedAt"`
}

type GalleryStatus string

const (
	GalleryPending   GalleryStatus = "pending"
	GalleryActive    GalleryStatus = "active"
	GalleryCancelled GalleryStatus = "cancelled"
)

// Gallery is the revenue pool of a community. Its id doubles as the pool id.
type Gallery struct {
	ID          string        `json:"id" bson:"id"`
	CommunityID string        `json:"communityId" bson:"communityId"`
	Name        string        `json:"name" bson:"name"`
	Status      GalleryStatus `json:"status" bson:"status"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" bson:"updatedAt"`
}
