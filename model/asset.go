package model

import "time"

// UploadState tracks a media asset through the processing pipeline. It is the
// only durable signal the rest of the application reads.
type UploadState string

const (
	UploadStateStarted UploadState = "STARTED"
	UploadStateSuccess UploadState = "SUCCESS"
	UploadStateError   UploadState = "ERROR"
)

// TrackAudio is one uploaded audio source file belonging to a track.
// Created in STARTED when the upload is registered; flipped to SUCCESS or
// ERROR by the reconciler when its transcode job resolves.
type TrackAudio struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	TrackID          int64       `gorm:"index" json:"trackId"`
	OriginalFilename string      `json:"originalFilename"`
	FileExtension    string      `json:"fileExtension"`
	MimeType         string      `json:"mimeType"`
	SizeBytes        int64       `json:"sizeBytes"`
	Hash             string      `gorm:"size:64" json:"hash"`
	UploadState      UploadState `gorm:"size:16;default:STARTED" json:"uploadState"`
	// Duration in seconds. Nil when the encoder reported none; never
	// defaulted to zero.
	Duration  *float64  `json:"duration,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ImageKind identifies the owning surface of an image and selects its
// optimization preset.
type ImageKind string

const (
	ImageKindCover  ImageKind = "cover"
	ImageKindAvatar ImageKind = "avatar"
	ImageKindBanner ImageKind = "banner"
)

// Image is one uploaded image source file (album cover, avatar or banner).
// URLs holds every successfully produced size variant and is written in a
// single update after the whole variant batch succeeds.
type Image struct {
	ID               string      `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          int64       `gorm:"index" json:"ownerId"`
	Kind             ImageKind   `gorm:"size:16" json:"kind"`
	OriginalFilename string      `json:"originalFilename"`
	FileExtension    string      `json:"fileExtension"`
	MimeType         string      `json:"mimeType"`
	SizeBytes        int64       `json:"sizeBytes"`
	UploadState      UploadState `gorm:"size:16;default:STARTED" json:"uploadState"`
	URLs             []string    `gorm:"serializer:json" json:"urls"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}
