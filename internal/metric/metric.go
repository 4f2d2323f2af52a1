package metric

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ApiRequestCount     = "api_request_count"
	ApiRequestLatency   = "api_request_latency"
	InferenceLatency    = "inference_latency"
	InferenceErrorCount = "inference_error_count"
	ModelUploadCount    = "model_upload_count"
	PublishErrorCount   = "publish_error_count"

	TagEnv            = "env"
	TagService        = "service"
	TagPath           = "path"
	TagMethod         = "method"
	TagHttpStatusCode = "http_status_code"
	TagErrorKind      = "error_kind"
)

var (
	// no-op until Init so tests and tools emit nothing
	statsDClient statsd.ClientInterface = &statsd.NoOpClient{}
	samplingRate                        = 1.0
	once         sync.Once
)

// Init initializes the metrics client
func Init(address, appName, env string, rate float64) {
	once.Do(func() {
		client, err := statsd.New(address, statsd.WithTags([]string{
			TagAsString(TagEnv, env),
			TagAsString(TagService, appName),
		}))
		if err != nil {
			log.Error().Err(err).Msg("StatsD client initialization failed, metrics disabled")
			return
		}
		statsDClient = client
		samplingRate = rate
		log.Info().Msgf("Metrics client initialized with address - %s and sampling rate - %f", address, rate)
	})
}

func Close() {
	if err := statsDClient.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing statsd client")
	}
}

// Timing sends timing information
func Timing(name string, value time.Duration, tags []string) {
	if err := statsDClient.Timing(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd timing")
	}
}

// Count increases metric counter by value
func Count(name string, value int64, tags []string) {
	if err := statsDClient.Count(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd count")
	}
}

// Incr increases metric counter by 1
func Incr(name string, tags []string) {
	Count(name, 1, tags)
}

func TagAsString(name, value string) string {
	return name + ":" + value
}

func BuildTags(kv ...string) []string {
	tags := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		tags = append(tags, TagAsString(kv[i], kv[i+1]))
	}
	return tags
}
