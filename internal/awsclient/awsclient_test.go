package awsclient

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeS3 struct {
	objects map[string]string
	lastGet *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastGet = in
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

type fakePresign struct {
	in      *s3.PutObjectInput
	expires time.Duration
}

func (f *fakePresign) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.in = in
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(in.Key) + "?sig=1", Method: "PUT"}, nil
}

func TestObjectStorePresignUpload(t *testing.T) {
	presign := &fakePresign{}
	store := newObjectStore(&fakeS3{}, presign, "kyc-artifacts", 90*time.Second, zap.NewNop())

	url, err := store.PresignUpload(context.Background(), "S1/id-front.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/S1/id-front.jpg?sig=1", url)
	assert.Equal(t, "kyc-artifacts", aws.ToString(presign.in.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(presign.in.ContentType))
	assert.Equal(t, 90*time.Second, presign.expires)
}

func TestObjectStoreGetObject(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{"S1/id-back.png": "png-bytes"}}
	store := newObjectStore(fake, &fakePresign{}, "kyc-artifacts", 0, zap.NewNop())

	data, err := store.GetObject(context.Background(), "S1/id-back.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "kyc-artifacts", aws.ToString(fake.lastGet.Bucket))

	_, err = store.GetObject(context.Background(), "S1/missing.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

type fakeRekognition struct {
	createIn  *rekognition.CreateFaceLivenessSessionInput
	createErr error
	results   *rekognition.GetFaceLivenessSessionResultsOutput
	compareIn *rekognition.CompareFacesInput
	matches   []rektypes.CompareFacesMatch
}

func (f *fakeRekognition) CreateFaceLivenessSession(_ context.Context, in *rekognition.CreateFaceLivenessSessionInput, _ ...func(*rekognition.Options)) (*rekognition.CreateFaceLivenessSessionOutput, error) {
	f.createIn = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &rekognition.CreateFaceLivenessSessionOutput{SessionId: aws.String("live-123")}, nil
}

func (f *fakeRekognition) GetFaceLivenessSessionResults(_ context.Context, _ *rekognition.GetFaceLivenessSessionResultsInput, _ ...func(*rekognition.Options)) (*rekognition.GetFaceLivenessSessionResultsOutput, error) {
	return f.results, nil
}

func (f *fakeRekognition) CompareFaces(_ context.Context, in *rekognition.CompareFacesInput, _ ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error) {
	f.compareIn = in
	return &rekognition.CompareFacesOutput{FaceMatches: f.matches}, nil
}

func TestCreateLivenessSessionWritesUnderSelfiePrefix(t *testing.T) {
	fake := &fakeRekognition{}
	r := newRekognition(fake, "kyc-artifacts", zap.NewNop())

	id, err := r.CreateLivenessSession(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "live-123", id)

	settings := fake.createIn.Settings
	require.NotNil(t, settings)
	assert.Equal(t, "kyc-artifacts", aws.ToString(settings.OutputConfig.S3Bucket))
	assert.Equal(t, "S1/selfie", aws.ToString(settings.OutputConfig.S3KeyPrefix))
	assert.Equal(t, int32(1), aws.ToInt32(settings.AuditImagesLimit))
	assert.Nil(t, fake.createIn.ClientRequestToken)
}

func TestCreateLivenessSessionWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	r := newRekognition(&fakeRekognition{createErr: boom}, "b", zap.NewNop())

	_, err := r.CreateLivenessSession(context.Background(), "S1")
	assert.ErrorIs(t, err, boom)
}

func TestGetLivenessResults(t *testing.T) {
	fake := &fakeRekognition{results: &rekognition.GetFaceLivenessSessionResultsOutput{
		Confidence: aws.Float32(92.5),
		Status:     rektypes.LivenessSessionStatusSucceeded,
		ReferenceImage: &rektypes.AuditImage{
			S3Object: &rektypes.S3Object{Name: aws.String("S1/selfie/live-123/reference.jpg")},
		},
	}}
	r := newRekognition(fake, "b", zap.NewNop())

	res, err := r.GetLivenessResults(context.Background(), "live-123")
	require.NoError(t, err)
	assert.InDelta(t, 92.5, res.Confidence, 0.001)
	assert.Equal(t, "SUCCEEDED", res.Status)
	assert.Equal(t, "S1/selfie/live-123/reference.jpg", res.ReferenceKey)
}

func TestCompareFacesUsesBestMatch(t *testing.T) {
	fake := &fakeRekognition{matches: []rektypes.CompareFacesMatch{
		{Similarity: aws.Float32(81)},
		{Similarity: aws.Float32(97)},
	}}
	r := newRekognition(fake, "kyc-artifacts", zap.NewNop())

	m, err := r.CompareFaces(context.Background(), "S1/id-front.jpg", "S1/reference.jpg", 80)
	require.NoError(t, err)
	assert.True(t, m.Matched)
	assert.InDelta(t, 97, m.Similarity, 0.001)
	assert.Equal(t, "S1/id-front.jpg", aws.ToString(fake.compareIn.SourceImage.S3Object.Name))
	assert.Equal(t, "S1/reference.jpg", aws.ToString(fake.compareIn.TargetImage.S3Object.Name))
	assert.InDelta(t, 80, aws.ToFloat32(fake.compareIn.SimilarityThreshold), 0.001)
}

func TestCompareFacesNoMatch(t *testing.T) {
	r := newRekognition(&fakeRekognition{}, "b", zap.NewNop())

	m, err := r.CompareFaces(context.Background(), "a", "b", 80)
	require.NoError(t, err)
	assert.False(t, m.Matched)
	assert.Zero(t, m.Similarity)
}
