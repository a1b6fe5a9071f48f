package pipeline

import (
	"fmt"

	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
)

// nextStage describes the follow-up job a successfully completed stage
// enqueues.
type nextStage struct {
	queue string
	// payload builds the follow-up payload from the finished job.
	payload func(job *queue.Job) (interface{}, error)
}

// stageChain declares the pipeline dependency graph in one place: stage N
// success enqueues stage N+1. The chain is strictly one-directional; the
// verification stage never feeds back into transcoding.
var stageChain = map[string]nextStage{
	model.QueueConvertAudio: {
		queue:   model.QueueVerifyAudio,
		payload: verifyPayloadFromConvert,
	},
}

func verifyPayloadFromConvert(job *queue.Job) (interface{}, error) {
	var p model.ConvertAudioPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("failed to decode convert-audio payload for chaining: %w", err)
	}
	return model.VerifyAudioPayload{
		AssetID:       p.AssetID,
		FileExtension: p.FileExtension,
	}, nil
}
