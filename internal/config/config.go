package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Thresholds holds the policy gates shared by the capture tracker and the
// verification pipeline.
type Thresholds struct {
	// BlurThreshold is the minimum sharpness variance a frame must report.
	BlurThreshold float64
	// RequiredHoldCount is the number of consecutive stable frames before capture.
	RequiredHoldCount int
	// JitterTolerance is the largest per-axis box center shift, in pixels,
	// still counted as holding still.
	JitterTolerance float64
	// SimilarityThreshold gates face comparison, on a 0-100 scale.
	SimilarityThreshold float64
	// LivenessThreshold gates the liveness confidence, on a 0-100 scale.
	LivenessThreshold float64
}

// DefaultThresholds returns the production policy values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlurThreshold:       100,
		RequiredHoldCount:   15,
		JitterTolerance:     10,
		SimilarityThreshold: 80,
		LivenessThreshold:   75,
	}
}

// Validate rejects thresholds that would make a gate meaningless.
func (t Thresholds) Validate() error {
	var errs []error
	if t.BlurThreshold < 0 {
		errs = append(errs, errors.New("blur threshold must not be negative"))
	}
	if t.RequiredHoldCount < 1 {
		errs = append(errs, errors.New("required hold count must be at least 1"))
	}
	if t.JitterTolerance < 0 {
		errs = append(errs, errors.New("jitter tolerance must not be negative"))
	}
	if t.SimilarityThreshold < 0 || t.SimilarityThreshold > 100 {
		errs = append(errs, errors.New("similarity threshold must be within [0,100]"))
	}
	if t.LivenessThreshold < 0 || t.LivenessThreshold > 100 {
		errs = append(errs, errors.New("liveness threshold must be within [0,100]"))
	}
	return errors.Join(errs...)
}

// AWS groups object storage and rekognition settings.
type AWS struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PresignExpiry   time.Duration
}

// Inference groups live inference stream settings.
type Inference struct {
	Addr       string
	Workspace  string
	WorkflowID string
}

// Config is the full server configuration.
type Config struct {
	HTTPAddr        string
	DatabaseDSN     string
	RedisAddr       string
	JWTSecret       string
	JWTAudience     string
	CaptureTokenTTL time.Duration
	AppURL          string
	GeminiAPIKey    string
	GeminiModel     string
	// StatusFeed selects how status observers are fed: "redis" pub/sub or
	// "poll" against the database.
	StatusFeed         string
	StatusPollInterval time.Duration
	AWS                AWS
	Inference          Inference
	Thresholds         Thresholds
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:  getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=idverify port=5432 sslmode=disable"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:  os.Getenv("JWT_AUDIENCE"),
		AppURL:       strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		StatusFeed:   strings.ToLower(getEnv("STATUS_FEED", "redis")),
		AWS: AWS{
			Region:          getEnv("AWS_REGION", "ap-southeast-1"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("AWS_S3_BUCKET"),
		},
		Inference: LoadInference(),
	}

	var errs []error
	var err error
	if cfg.CaptureTokenTTL, err = getDuration("CAPTURE_TOKEN_TTL", 30*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.AWS.PresignExpiry, err = getDuration("PRESIGN_EXPIRY", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.StatusPollInterval, err = getDuration("STATUS_POLL_INTERVAL", 2*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.StatusFeed != "redis" && cfg.StatusFeed != "poll" {
		errs = append(errs, fmt.Errorf("STATUS_FEED must be redis or poll, got %q", cfg.StatusFeed))
	}
	thresholds, err := LoadThresholds()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Thresholds = thresholds

	if cfg.AWS.Bucket == "" {
		errs = append(errs, errors.New("AWS_S3_BUCKET is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadInference reads the inference stream settings shared by both binaries.
func LoadInference() Inference {
	return Inference{
		Addr:       getEnv("INFERENCE_ADDR", "inference:50051"),
		Workspace:  os.Getenv("INFERENCE_WORKSPACE"),
		WorkflowID: os.Getenv("INFERENCE_WORKFLOW_ID"),
	}
}

// LoadThresholds reads the policy thresholds, falling back to defaults.
func LoadThresholds() (Thresholds, error) {
	t := DefaultThresholds()
	var errs []error
	var err error
	if t.BlurThreshold, err = getFloat("BLUR_THRESHOLD", t.BlurThreshold); err != nil {
		errs = append(errs, err)
	}
	if t.RequiredHoldCount, err = getInt("REQUIRED_HOLD_COUNT", t.RequiredHoldCount); err != nil {
		errs = append(errs, err)
	}
	if t.JitterTolerance, err = getFloat("JITTER_TOLERANCE", t.JitterTolerance); err != nil {
		errs = append(errs, err)
	}
	if t.SimilarityThreshold, err = getFloat("SIMILARITY_THRESHOLD", t.SimilarityThreshold); err != nil {
		errs = append(errs, err)
	}
	if t.LivenessThreshold, err = getFloat("LIVENESS_THRESHOLD", t.LivenessThreshold); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Thresholds{}, err
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
