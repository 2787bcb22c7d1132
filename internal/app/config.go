package app

import (
	"strings"

	"github.com/cineolabs/cineo-backend/internal/platform/envutil"
)

type Config struct {
	Port         string
	LogMode      string
	JWTSecretKey string
	CORSOrigins  []string
	PolicyPath   string

	// Generation upstreams. An empty key selects the fake adapters.
	ScriptAPIKey  string
	ScriptBaseURL string
	ImageAPIKey   string
	ImageBaseURL  string
	VideoAPIKey   string
	VideoBaseURL  string
	GenRatePerSec float64

	RedisAddr string

	ServiceName string
	Environment string
	Version     string
}

func LoadConfig() Config {
	var origins []string
	for _, o := range strings.Split(envutil.Str("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return Config{
		Port:          envutil.Str("PORT", "8080"),
		LogMode:       envutil.Str("LOG_MODE", "development"),
		JWTSecretKey:  envutil.Str("JWT_SECRET_KEY", "defaultsecret"),
		CORSOrigins:   origins,
		PolicyPath:    envutil.Str("PIPELINE_POLICY_PATH", "configs/pipeline.yaml"),
		ScriptAPIKey:  envutil.Str("SCRIPT_API_KEY", ""),
		ScriptBaseURL: envutil.Str("SCRIPT_BASE_URL", "https://openrouter.ai/api"),
		ImageAPIKey:   envutil.Str("IMAGE_API_KEY", ""),
		ImageBaseURL:  envutil.Str("IMAGE_BASE_URL", "https://api.stability.ai"),
		VideoAPIKey:   envutil.Str("VIDEO_API_KEY", ""),
		VideoBaseURL:  envutil.Str("VIDEO_BASE_URL", "https://api.runwayml.com"),
		GenRatePerSec: float64(envutil.Int("GEN_RATE_PER_SEC", 2)),
		RedisAddr:     envutil.Str("REDIS_ADDR", ""),
		ServiceName:   envutil.Str("SERVICE_NAME", "cineo-backend"),
		Environment:   envutil.Str("ENVIRONMENT", "development"),
		Version:       envutil.Str("SERVICE_VERSION", "dev"),
	}
}
