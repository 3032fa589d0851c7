package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"storyfeed/internal/models"
)

// SecurityConfig represents security configuration
type SecurityConfig struct {
	EnableRateLimit       bool
	RateLimitPerSecond    float64
	RateLimitBurst        int
	EnableCORS            bool
	AllowedOrigins        []string
	EnableSecurityHeaders bool
	MaxRequestSize        int64
	EnableRequestID       bool
}

type Config struct {
	Port             int
	DataDir          string
	LogLevel         string
	CacheTTL         time.Duration
	PageSize         int
	DebounceDelay    time.Duration
	RealtimeDebounce time.Duration
	RepairMinSlides  int
	RemoteBaseURL    string
	RemoteAPIKey     string
	RealtimeURL      string
	NetworkProfile   string
	EnableSwagger    bool
	EnableRealtime   bool
	Topics           map[string]models.Topic
	Security         SecurityConfig
}

func Load() *Config {
	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		DataDir:          getEnv("DATA_DIR", "./data"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		CacheTTL:         getEnvAsDuration("CACHE_TTL", 15*time.Minute),
		PageSize:         getEnvAsInt("PAGE_SIZE", 30),
		DebounceDelay:    getEnvAsDuration("FILTER_DEBOUNCE", 400*time.Millisecond),
		RealtimeDebounce: getEnvAsDuration("REALTIME_DEBOUNCE", 2*time.Second),
		RepairMinSlides:  getEnvAsInt("REPAIR_MIN_SLIDES", 3),
		RemoteBaseURL:    getEnv("REMOTE_BASE_URL", "http://localhost:9090"),
		RemoteAPIKey:     getEnv("REMOTE_API_KEY", ""),
		RealtimeURL:      getEnv("REALTIME_URL", "ws://localhost:9090/realtime"),
		NetworkProfile:   getEnv("NETWORK_PROFILE", "fast"),
		EnableSwagger:    getEnvAsBool("ENABLE_SWAGGER", true),
		EnableRealtime:   getEnvAsBool("ENABLE_REALTIME", true),
		Security:         loadSecurityConfig(),
	}

	cfg.Topics = loadTopicsFromEnv()
	if len(cfg.Topics) == 0 {
		cfg.Topics = getDefaultTopics()
	}
	return cfg
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		EnableRateLimit:       getEnvAsBool("ENABLE_RATE_LIMIT", true),
		RateLimitPerSecond:    getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10.0),
		RateLimitBurst:        getEnvAsInt("RATE_LIMIT_BURST", 20),
		EnableCORS:            getEnvAsBool("ENABLE_CORS", true),
		AllowedOrigins:        getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		EnableSecurityHeaders: getEnvAsBool("ENABLE_SECURITY_HEADERS", true),
		MaxRequestSize:        getEnvAsInt64("MAX_REQUEST_SIZE", 1<<20), // 1MB
		EnableRequestID:       getEnvAsBool("ENABLE_REQUEST_ID", true),
	}
}

// loadTopicsFromEnv reads TOPIC_<NAME> environment variables. Value format:
// "slug|classification|region|keywords|landmarks|organizations", the last
// three comma-separated. Only the slug is required.
func loadTopicsFromEnv() map[string]models.Topic {
	topics := make(map[string]models.Topic)

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "TOPIC_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(parts[0], "TOPIC_"))
		topic := parseTopicValue(name, parts[1])
		topics[topic.Slug] = topic
	}

	return topics
}

func parseTopicValue(name, value string) models.Topic {
	fields := strings.Split(value, "|")
	get := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}

	topic := models.Topic{
		ID:             get(0),
		Slug:           get(0),
		Name:           name,
		Classification: get(1),
		Region:         get(2),
		Keywords:       splitList(get(3)),
		Landmarks:      splitList(get(4)),
		Organizations:  splitList(get(5)),
	}
	if topic.Slug == "" {
		topic.ID = name
		topic.Slug = name
	}
	if topic.Classification == "" {
		topic.Classification = "keyword"
	}
	return topic
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getDefaultTopics() map[string]models.Topic {
	return map[string]models.Topic{
		"harbor-city": {
			ID:             "harbor-city",
			Slug:           "harbor-city",
			Name:           "Harbor City",
			Classification: "regional",
			Region:         "harbor-city",
			Keywords:       []string{"harbor", "bridge", "ferry", "council"},
			Landmarks:      []string{"north pier", "old lighthouse"},
			Organizations:  []string{"port authority", "city council"},
		},
	}
}

func getEnv(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		origins := strings.Split(val, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return origins
	}
	return defaultVal
}
