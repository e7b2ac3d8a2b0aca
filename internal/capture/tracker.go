package capture

import (
	"fmt"

	"github.com/example/idverify/internal/config"
	"github.com/example/idverify/internal/inference"
	"github.com/example/idverify/internal/session"
)

// Feedback texts shown to the person holding the document.
const (
	FeedbackBlurry   = "Image is blurry"
	FeedbackUnstable = "Please hold still"
	FeedbackHolding  = "Hold still…"
	FeedbackCaptured = "Image successfully captured"
)

// Overlay receives a drawing instruction for every processed frame.
// box is nil when no document is in view.
type Overlay interface {
	Draw(box *inference.BoundingBox, locked bool)
}

// Decision is the tracker's response to one frame.
type Decision struct {
	Judgement Judgement
	Feedback  string
	HoldCount int
	// Capture is true on exactly one frame per activation.
	Capture bool
	// Done is true once the capture decision has fired; later frames are
	// ignored until Reset.
	Done       bool
	Prediction *inference.Prediction
}

// State is a copy of the tracker's transient state.
type State struct {
	HoldCount int
	LastBox   *inference.BoundingBox
	Feedback  string
	Done      bool
}

// StabilityTracker folds a stream of frame judgements into a single capture
// decision. Any non-stable frame resets progress to zero.
type StabilityTracker struct {
	classifier *FrameClassifier
	required   int
	document   string
	overlay    Overlay

	holdCount int
	lastBox   *inference.BoundingBox
	feedback  string
	done      bool
}

// TrackerOption configures a StabilityTracker.
type TrackerOption func(*StabilityTracker)

// WithOverlay forwards a drawing instruction on every frame.
func WithOverlay(o Overlay) TrackerOption {
	return func(t *StabilityTracker) { t.overlay = o }
}

// WithDocumentName sets the noun used in feedback ("ID", "Passport").
func WithDocumentName(name string) TrackerOption {
	return func(t *StabilityTracker) {
		if name != "" {
			t.document = name
		}
	}
}

// WithClassLabels overrides the detector class expected for each side.
func WithClassLabels(front, back string) TrackerOption {
	return func(t *StabilityTracker) {
		t.classifier = NewFrameClassifier(t.classifier.side, t.classifier.blurThreshold, t.classifier.jitterTolerance, front, back)
	}
}

// NewStabilityTracker builds a tracker for side using the shared thresholds.
func NewStabilityTracker(side session.Side, thresholds config.Thresholds, opts ...TrackerOption) *StabilityTracker {
	required := thresholds.RequiredHoldCount
	if required < 1 {
		required = 1
	}
	t := &StabilityTracker{
		classifier: NewFrameClassifier(side, thresholds.BlurThreshold, thresholds.JitterTolerance, "", ""),
		required:   required,
		document:   "ID",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.feedback = t.InitialFeedback()
	return t
}

// InitialFeedback is shown before the first frame arrives.
func (t *StabilityTracker) InitialFeedback() string {
	return fmt.Sprintf("Move your %s %s into view", t.classifier.side, t.document)
}

// Observe evaluates one frame and returns the resulting decision.
func (t *StabilityTracker) Observe(frame inference.Frame) Decision {
	if t.done {
		return Decision{Judgement: JudgementStable, Feedback: t.feedback, HoldCount: t.holdCount, Done: true}
	}

	c := t.classifier.Classify(frame, t.lastBox)
	switch c.Judgement {
	case JudgementBlurry:
		t.holdCount = 0
		t.feedback = FeedbackBlurry
	case JudgementNoDocument:
		t.holdCount = 0
		t.lastBox = nil
		t.feedback = fmt.Sprintf("%s not detected", t.document)
	case JudgementWrongSide:
		t.holdCount = 0
		t.feedback = fmt.Sprintf("Wrong side detected, please show %s", t.classifier.side)
	case JudgementUnstable:
		t.holdCount = 0
		t.lastBox = boxOf(c.Prediction)
		t.feedback = FeedbackUnstable
	case JudgementStable:
		t.holdCount++
		t.lastBox = boxOf(c.Prediction)
		t.feedback = FeedbackHolding
	}

	d := Decision{Judgement: c.Judgement, HoldCount: t.holdCount, Prediction: c.Prediction}
	if c.Judgement == JudgementStable && t.holdCount >= t.required {
		t.done = true
		t.feedback = FeedbackCaptured
		d.Capture = true
		d.Done = true
	}
	d.Feedback = t.feedback

	if t.overlay != nil {
		t.overlay.Draw(boxOf(c.Prediction), t.done)
	}
	return d
}

// Reset discards all progress so the tracker can run a new activation.
func (t *StabilityTracker) Reset() {
	t.holdCount = 0
	t.lastBox = nil
	t.done = false
	t.feedback = t.InitialFeedback()
}

// State returns a snapshot of the tracker state.
func (t *StabilityTracker) State() State {
	s := State{HoldCount: t.holdCount, Feedback: t.feedback, Done: t.done}
	if t.lastBox != nil {
		b := *t.lastBox
		s.LastBox = &b
	}
	return s
}

// LastBox returns the most recent accepted bounding box, if any.
func (t *StabilityTracker) LastBox() *inference.BoundingBox {
	return t.State().LastBox
}

func boxOf(p *inference.Prediction) *inference.BoundingBox {
	if p == nil {
		return nil
	}
	b := p.Box
	return &b
}
