package session

import (
	"errors"
	"fmt"
	"strings"
)

// ArtifactKind names a captured image within a session.
type ArtifactKind string

const (
	KindIDFront   ArtifactKind = "id-front"
	KindIDBack    ArtifactKind = "id-back"
	KindSelfie    ArtifactKind = "selfie"
	KindReference ArtifactKind = "reference"
)

// ErrUnsupportedContentType is returned for artifacts that are not images
// the pipeline can consume.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// ErrUnknownArtifactKind is returned when parsing an unrecognised kind.
var ErrUnknownArtifactKind = errors.New("unknown artifact kind")

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// ParseArtifactKind converts a wire value into an ArtifactKind.
func ParseArtifactKind(raw string) (ArtifactKind, error) {
	switch k := ArtifactKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindIDFront, KindIDBack, KindSelfie, KindReference:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownArtifactKind, raw)
	}
}

// ExtensionFor maps an image content type to its file extension.
func ExtensionFor(contentType string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := extensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return ext, nil
}

// ArtifactKey returns the object storage key {sessionID}/{kind}.{ext}.
func ArtifactKey(sessionID string, kind ArtifactKind, ext string) string {
	return fmt.Sprintf("%s/%s.%s", sessionID, kind, strings.TrimPrefix(ext, "."))
}

// LivenessOutputPrefix is the key prefix under which the liveness service
// writes a session's audit and reference images.
func LivenessOutputPrefix(sessionID string) string {
	return sessionID + "/" + string(KindSelfie)
}

// ReferenceKey is where the liveness service stores the reference selfie of
// one liveness session: {prefix}/{livenessSessionID}/reference.jpg.
func ReferenceKey(sessionID, livenessSessionID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", LivenessOutputPrefix(sessionID), livenessSessionID, KindReference)
}

// Side is the face of an identity document being captured.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ParseSide converts a wire value into a Side.
func ParseSide(raw string) (Side, error) {
	switch s := Side(strings.ToLower(strings.TrimSpace(raw))); s {
	case SideFront, SideBack:
		return s, nil
	default:
		return "", fmt.Errorf("unknown document side %q", raw)
	}
}

// ArtifactKind returns the storage kind for a captured side.
func (s Side) ArtifactKind() ArtifactKind {
	if s == SideBack {
		return KindIDBack
	}
	return KindIDFront
}
