package model

// Queue names. One worker type is bound to each.
const (
	QueueConvertAudio  = "convert-audio"
	QueueVerifyAudio   = "verify-audio"
	QueueOptimizeImage = "optimize-image"
	QueueGenerateAlbum = "generate-album"
	QueueCleanup       = "cleanup"
)

// AllQueues lists every queue a pipeline process serves.
func AllQueues() []string {
	return []string{
		QueueConvertAudio,
		QueueVerifyAudio,
		QueueOptimizeImage,
		QueueGenerateAlbum,
		QueueCleanup,
	}
}

// ConvertAudioPayload enqueues a transcode of one uploaded audio asset.
type ConvertAudioPayload struct {
	AssetID       string `json:"assetId"`
	FileExtension string `json:"fileExtension"`
}

// ConvertAudioResult is the transcode job result carried on the completed
// event. DurationSeconds is nil when the encoder reported no duration.
type ConvertAudioResult struct {
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
}

// VerifyAudioPayload enqueues an advisory fingerprint check of a finalized
// audio asset.
type VerifyAudioPayload struct {
	AssetID       string `json:"assetId"`
	FileExtension string `json:"fileExtension"`
}

// OptimizeImagePayload enqueues variant generation for one uploaded image.
type OptimizeImagePayload struct {
	ImageID string    `json:"imageId"`
	Kind    ImageKind `json:"kind"`
}

// AlbumTrack is one track of a collection to package.
type AlbumTrack struct {
	AssetID       string   `json:"assetId"`
	FileExtension string   `json:"fileExtension"`
	Title         string   `json:"title"`
	Order         int      `json:"order"`
	Artists       []string `json:"artists,omitempty"`
	Genre         string   `json:"genre,omitempty"`
}

// GenerateAlbumPayload enqueues packaging of a whole collection into one
// downloadable archive in the requested format.
type GenerateAlbumPayload struct {
	CollectionID int64        `json:"collectionId"`
	Title        string       `json:"title"`
	ArtistName   string       `json:"artistName"`
	Tracks       []AlbumTrack `json:"tracks"`
	Format       string       `json:"format"`
}

// GenerateAlbumResult reports where the finished archive was uploaded.
type GenerateAlbumResult struct {
	ArchiveKey string `json:"archiveKey"`
}

// CleanupPayload selects one of two cleanup behaviors by shape: a bucket
// prefix purge, or a local directory retention sweep.
type CleanupPayload struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// CleanupResult reports how many entries were removed.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}
