// Package inference describes the per-frame payloads delivered by the live
// document detection stream and the connection used to receive them.
package inference

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStreamClosed is returned by Recv once the stream has ended.
	ErrStreamClosed = errors.New("inference stream closed")
	// ErrMalformedFrame is returned by Recv for one payload that cannot be
	// read as a frame. The stream itself stays usable.
	ErrMalformedFrame = errors.New("malformed inference payload")
)

// BoundingBox is a center-anchored pixel box as reported by the detector.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Prediction is one detected object.
type Prediction struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Frame is the detection result for one video frame.
type Frame struct {
	// Variance is the sharpness score, when the workflow computes one.
	Variance *float64
	// NotBlur is the workflow's own blur verdict, when present.
	NotBlur     *bool
	Predictions []Prediction
	// CroppedImage is a pre-cropped still of the document, when supplied.
	CroppedImage []byte
	ReceivedAt   time.Time
}

// Best returns the highest-confidence prediction, if any.
func (f Frame) Best() (Prediction, bool) {
	if len(f.Predictions) == 0 {
		return Prediction{}, false
	}
	best := f.Predictions[0]
	for _, p := range f.Predictions[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best, true
}

// Params selects the detection workflow for a stream.
type Params struct {
	Workspace  string
	WorkflowID string
	// Source identifies the camera feed the worker should consume.
	Source string
	Side   string
}

// Connection is an open inference stream. Recv blocks until the next frame
// arrives or the stream fails. An unreadable payload yields an error
// wrapping ErrMalformedFrame; the following Recv continues with the next one.
type Connection interface {
	Recv() (Frame, error)
	Close() error
}

// Connector opens inference streams.
type Connector interface {
	Connect(ctx context.Context, params Params) (Connection, error)
}
