package capture

import (
	"math"

	"github.com/example/idverify/internal/inference"
	"github.com/example/idverify/internal/session"
)

// Judgement is the normalized verdict on a single frame.
type Judgement string

const (
	JudgementBlurry     Judgement = "blurry"
	JudgementNoDocument Judgement = "no-document"
	JudgementWrongSide  Judgement = "wrong-side"
	JudgementUnstable   Judgement = "unstable"
	JudgementStable     Judgement = "stable"
)

// Default detector class labels for each side of the card.
const (
	DefaultFrontLabel = "IC-Front"
	DefaultBackLabel  = "IC-Back"
)

// Classification is the verdict on a frame together with the prediction it
// was based on, when one was present.
type Classification struct {
	Judgement  Judgement
	Prediction *inference.Prediction
}

// FrameClassifier turns one inference result into a Judgement for a fixed
// target side.
type FrameClassifier struct {
	side            session.Side
	blurThreshold   float64
	jitterTolerance float64
	frontLabel      string
	backLabel       string
}

// NewFrameClassifier builds a classifier for side. Empty labels fall back
// to the default detector classes.
func NewFrameClassifier(side session.Side, blurThreshold, jitterTolerance float64, frontLabel, backLabel string) *FrameClassifier {
	if frontLabel == "" {
		frontLabel = DefaultFrontLabel
	}
	if backLabel == "" {
		backLabel = DefaultBackLabel
	}
	return &FrameClassifier{
		side:            side,
		blurThreshold:   blurThreshold,
		jitterTolerance: jitterTolerance,
		frontLabel:      frontLabel,
		backLabel:       backLabel,
	}
}

// Side returns the side this classifier accepts.
func (c *FrameClassifier) Side() session.Side {
	return c.side
}

// Classify judges frame. previous is the box seen on the last frame that
// carried a correctly-sided prediction, or nil.
func (c *FrameClassifier) Classify(frame inference.Frame, previous *inference.BoundingBox) Classification {
	if c.isBlurry(frame) {
		return Classification{Judgement: JudgementBlurry}
	}

	pred, ok := frame.Best()
	if !ok {
		return Classification{Judgement: JudgementNoDocument}
	}
	if pred.Class != c.expectedLabel() {
		return Classification{Judgement: JudgementWrongSide, Prediction: &pred}
	}
	if previous != nil && c.moved(*previous, pred.Box) {
		return Classification{Judgement: JudgementUnstable, Prediction: &pred}
	}
	return Classification{Judgement: JudgementStable, Prediction: &pred}
}

func (c *FrameClassifier) isBlurry(frame inference.Frame) bool {
	if frame.Variance != nil && *frame.Variance < c.blurThreshold {
		return true
	}
	return frame.NotBlur != nil && !*frame.NotBlur
}

func (c *FrameClassifier) expectedLabel() string {
	if c.side == session.SideBack {
		return c.backLabel
	}
	return c.frontLabel
}

func (c *FrameClassifier) moved(prev, cur inference.BoundingBox) bool {
	return math.Abs(cur.X-prev.X) > c.jitterTolerance || math.Abs(cur.Y-prev.Y) > c.jitterTolerance
}
