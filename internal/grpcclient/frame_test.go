package grpcclient

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idverify/internal/inference"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestFrameFromStructReadsWorkflowOutput(t *testing.T) {
	crop := []byte{0xff, 0xd8, 0xff, 0xe0}
	s := mustStruct(t, map[string]any{
		"outputs": []any{map[string]any{
			"variance": 182.5,
			"not_blur": true,
			"boxes": map[string]any{"predictions": []any{
				map[string]any{"x": 320.0, "y": 240.0, "width": 400.0, "height": 250.0, "class": "IC-Front", "confidence": 0.91},
				map[string]any{"x": 10.0, "y": 10.0, "width": 5.0, "height": 5.0, "class": "IC-Back", "confidence": 0.12},
			}},
			"cropped_image": map[string]any{"type": "base64", "value": base64.StdEncoding.EncodeToString(crop)},
		}},
	})

	frame, err := FrameFromStruct(s)
	require.NoError(t, err)
	require.NotNil(t, frame.Variance)
	assert.Equal(t, 182.5, *frame.Variance)
	require.NotNil(t, frame.NotBlur)
	assert.True(t, *frame.NotBlur)
	require.Len(t, frame.Predictions, 2)
	assert.Equal(t, inference.Prediction{
		Class:      "IC-Front",
		Confidence: 0.91,
		Box:        inference.BoundingBox{X: 320, Y: 240, Width: 400, Height: 250},
	}, frame.Predictions[0])
	assert.Equal(t, crop, frame.CroppedImage)
}

func TestFrameFromStructFlatPayload(t *testing.T) {
	s := mustStruct(t, map[string]any{
		"boxes":         []any{map[string]any{"x": 1.0, "y": 2.0, "width": 3.0, "height": 4.0, "class": "IC-Back", "confidence": 0.5}},
		"cropped_image": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg")),
	})

	frame, err := FrameFromStruct(s)
	require.NoError(t, err)
	assert.Nil(t, frame.Variance)
	assert.Nil(t, frame.NotBlur)
	require.Len(t, frame.Predictions, 1)
	assert.Equal(t, "IC-Back", frame.Predictions[0].Class)
	assert.Equal(t, []byte("jpeg"), frame.CroppedImage)
}

func TestFrameFromStructEmpty(t *testing.T) {
	frame, err := FrameFromStruct(mustStruct(t, map[string]any{"outputs": []any{}}))
	require.NoError(t, err)
	_, ok := frame.Best()
	assert.False(t, ok)

	_, err = FrameFromStruct(nil)
	assert.ErrorIs(t, err, inference.ErrMalformedFrame)
}

func TestFrameFromStructRejectsMalformed(t *testing.T) {
	tests := map[string]map[string]any{
		"boxes scalar":      {"boxes": "nope"},
		"prediction scalar": {"boxes": []any{1.0}},
		"bad base64":        {"cropped_image": "!!!"},
		"outputs scalar":    {"outputs": []any{"x"}},
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FrameFromStruct(mustStruct(t, payload))
			assert.ErrorIs(t, err, inference.ErrMalformedFrame)
		})
	}
}
