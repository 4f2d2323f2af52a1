package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Configs struct {
	AppName               string  `mapstructure:"app_name"`
	AppEnv                string  `mapstructure:"app_env"`
	AppLogLevel           string  `mapstructure:"app_log_level"`
	AppPort               int     `mapstructure:"app_port"`
	AppMetricSamplingRate float64 `mapstructure:"app_metric_sampling_rate"`
	StatsdAddress         string  `mapstructure:"statsd_address"`

	UploadDir        string        `mapstructure:"upload_dir"`
	OutputDir        string        `mapstructure:"output_dir"`
	ModelFileName    string        `mapstructure:"model_file_name"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`

	OrtLibraryPath      string   `mapstructure:"ort_library_path"`
	ModelInputSize      int      `mapstructure:"model_input_size"`
	ModelLabels         []string `mapstructure:"model_labels"`
	ConfidenceThreshold float32  `mapstructure:"confidence_threshold"`
	IouThreshold        float32  `mapstructure:"iou_threshold"`

	S3Enabled         bool   `mapstructure:"s3_enabled"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"`
	S3AccessKeyID     string `mapstructure:"s3_access_key_id"`
	S3SecretAccessKey string `mapstructure:"s3_secret_access_key"`
	S3Prefix          string `mapstructure:"s3_prefix"`
}

var DefaultLabels = []string{"title", "authors", "table", "fig", "formula", "chapter", "pages", "reference"}

// Load reads the configuration from the environment.
func Load() (*Configs, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind env vars: %w", err)
	}

	var cfg Configs
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from environment: %w", err)
	}
	cfg.ModelLabels = normalizeLabels(cfg.ModelLabels)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "detect-offload")
	v.SetDefault("app_env", "local")
	v.SetDefault("app_log_level", "INFO")
	v.SetDefault("app_port", 8080)
	v.SetDefault("app_metric_sampling_rate", 1.0)
	v.SetDefault("statsd_address", "localhost:8125")

	v.SetDefault("upload_dir", "./API/uploads")
	v.SetDefault("output_dir", "./API/outputs")
	v.SetDefault("model_file_name", "model.onnx")
	v.SetDefault("max_upload_bytes", 256<<20)
	v.SetDefault("inference_timeout", "120s")

	v.SetDefault("model_input_size", 640)
	v.SetDefault("model_labels", strings.Join(DefaultLabels, ","))
	v.SetDefault("confidence_threshold", 0.3)
	v.SetDefault("iou_threshold", 0.5)

	v.SetDefault("s3_enabled", false)
	v.SetDefault("s3_prefix", "jobs")
}

func bindEnvVars(v *viper.Viper) error {
	keys := map[string]string{
		// App configuration
		"app_name":                 "APP_NAME",
		"app_env":                  "APP_ENV",
		"app_log_level":            "APP_LOG_LEVEL",
		"app_port":                 "APP_PORT",
		"app_metric_sampling_rate": "APP_METRIC_SAMPLING_RATE",
		"statsd_address":           "STATSD_ADDRESS",

		// Job storage
		"upload_dir":        "UPLOAD_DIR",
		"output_dir":        "OUTPUT_DIR",
		"model_file_name":   "MODEL_FILE_NAME",
		"max_upload_bytes":  "MAX_UPLOAD_BYTES",
		"inference_timeout": "INFERENCE_TIMEOUT",

		// Detector
		"ort_library_path":     "ORT_LIBRARY_PATH",
		"model_input_size":     "MODEL_INPUT_SIZE",
		"model_labels":         "MODEL_LABELS",
		"confidence_threshold": "CONFIDENCE_THRESHOLD",
		"iou_threshold":        "IOU_THRESHOLD",

		// Artifact mirror
		"s3_enabled":           "S3_ENABLED",
		"s3_bucket":            "S3_BUCKET",
		"s3_region":            "S3_REGION",
		"s3_endpoint":          "S3_ENDPOINT",
		"s3_access_key_id":     "S3_ACCESS_KEY_ID",
		"s3_secret_access_key": "S3_SECRET_ACCESS_KEY",
		"s3_prefix":            "S3_PREFIX",
	}
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func (c *Configs) Validate() error {
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("invalid APP_PORT %d", c.AppPort)
	}
	if c.UploadDir == "" || c.OutputDir == "" {
		return fmt.Errorf("UPLOAD_DIR and OUTPUT_DIR must be set")
	}
	if c.ModelFileName == "" || strings.ContainsAny(c.ModelFileName, `/\`) {
		return fmt.Errorf("invalid MODEL_FILE_NAME %q", c.ModelFileName)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	}
	if c.ModelInputSize <= 0 {
		return fmt.Errorf("MODEL_INPUT_SIZE must be positive")
	}
	if len(c.ModelLabels) == 0 {
		return fmt.Errorf("MODEL_LABELS must not be empty")
	}
	if c.S3Enabled && (c.S3Bucket == "" || c.S3Region == "") {
		return fmt.Errorf("S3_BUCKET and S3_REGION are required when S3_ENABLED is set")
	}
	return nil
}

func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		for _, part := range strings.Split(l, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
