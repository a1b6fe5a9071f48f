package storage

// Logical bucket names shared by every worker. Incoming buckets hold
// not-yet-validated uploads; final buckets hold only artifacts produced by a
// worker. An object is never promoted from incoming to final directly.
const (
	BucketIncomingAudio  = "incoming-audio"
	BucketFinalAudio     = "final-audio"
	BucketIncomingCovers = "incoming-covers"
	BucketFinalCovers    = "final-covers"
	BucketIncomingImages = "incoming-images"
	BucketFinalImages    = "final-images"
	BucketFormatArchives = "trackgroup-format-archives"
)

// AllBuckets lists every bucket the pipeline expects to exist.
func AllBuckets() []string {
	return []string{
		BucketIncomingAudio,
		BucketFinalAudio,
		BucketIncomingCovers,
		BucketFinalCovers,
		BucketIncomingImages,
		BucketFinalImages,
		BucketFormatArchives,
	}
}

// IncomingBucketFor returns the staging bucket for an image kind.
func IncomingBucketForImage(kind string) string {
	if kind == "cover" {
		return BucketIncomingCovers
	}
	return BucketIncomingImages
}

// FinalBucketForImage returns the servable bucket for an image kind.
func FinalBucketForImage(kind string) string {
	if kind == "cover" {
		return BucketFinalCovers
	}
	return BucketFinalImages
}
