package grpcclient

import (
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idverify/internal/inference"
)

// FrameFromStruct converts one workflow output into a Frame. Workflows may
// wrap their result in an "outputs" list; the first entry is used.
//
// Recognised keys: variance (number), not_blur (bool), boxes.predictions
// (list of {x, y, width, height, class, confidence}) and cropped_image
// (base64 string, optionally as {"value": "..."}).
func FrameFromStruct(s *structpb.Struct) (inference.Frame, error) {
	if s == nil {
		return inference.Frame{}, fmt.Errorf("%w: empty message", inference.ErrMalformedFrame)
	}
	payload := s.AsMap()
	if outputs, ok := payload["outputs"].([]any); ok {
		if len(outputs) == 0 {
			return inference.Frame{}, nil
		}
		first, ok := outputs[0].(map[string]any)
		if !ok {
			return inference.Frame{}, fmt.Errorf("%w: outputs[0] is %T", inference.ErrMalformedFrame, outputs[0])
		}
		payload = first
	}

	var frame inference.Frame
	if v, ok := payload["variance"].(float64); ok {
		frame.Variance = &v
	}
	if v, ok := payload["not_blur"].(bool); ok {
		frame.NotBlur = &v
	}

	preds, err := predictionsOf(payload["boxes"])
	if err != nil {
		return inference.Frame{}, err
	}
	frame.Predictions = preds

	img, err := croppedImageOf(payload["cropped_image"])
	if err != nil {
		return inference.Frame{}, err
	}
	frame.CroppedImage = img
	return frame, nil
}

func predictionsOf(raw any) ([]inference.Prediction, error) {
	var list []any
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		list, _ = v["predictions"].([]any)
	case []any:
		list = v
	default:
		return nil, fmt.Errorf("%w: boxes is %T", inference.ErrMalformedFrame, raw)
	}

	preds := make([]inference.Prediction, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: prediction %d is %T", inference.ErrMalformedFrame, i, item)
		}
		class, _ := m["class"].(string)
		preds = append(preds, inference.Prediction{
			Class:      class,
			Confidence: number(m["confidence"]),
			Box: inference.BoundingBox{
				X:      number(m["x"]),
				Y:      number(m["y"]),
				Width:  number(m["width"]),
				Height: number(m["height"]),
			},
		})
	}
	return preds, nil
}

func croppedImageOf(raw any) ([]byte, error) {
	var encoded string
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		encoded = v
	case map[string]any:
		encoded, _ = v["value"].(string)
	default:
		return nil, fmt.Errorf("%w: cropped_image is %T", inference.ErrMalformedFrame, raw)
	}
	if encoded == "" {
		return nil, nil
	}
	if i := strings.Index(encoded, ";base64,"); i >= 0 {
		encoded = encoded[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: cropped_image: %v", inference.ErrMalformedFrame, err)
	}
	return data, nil
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
