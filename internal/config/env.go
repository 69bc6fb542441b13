package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	AudioModel   string
	Port         string

	// Job queue tuning
	MemoryThreshold      float64
	MaxTextExtraction    int
	MaxOCR               int
	MaxAudio             int
	MaxEmbedding         int
	StaleProcessingMins  int

	// Stream hub tuning
	StreamQueueCapacity int
	StreamIdleMins      int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "study-sharper-files"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		AudioModel:   getEnv("AUDIO_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),

		MemoryThreshold:     getEnvFloat("MEMORY_THRESHOLD", 0.80),
		MaxTextExtraction:   getEnvInt("MAX_TEXT_EXTRACTION_JOBS", 5),
		MaxOCR:              getEnvInt("MAX_OCR_JOBS", 2),
		MaxAudio:            getEnvInt("MAX_AUDIO_JOBS", 3),
		MaxEmbedding:        getEnvInt("MAX_EMBEDDING_JOBS", 10),
		StaleProcessingMins: getEnvInt("STALE_PROCESSING_MINUTES", 15),

		StreamQueueCapacity: getEnvInt("STREAM_QUEUE_CAPACITY", 100),
		StreamIdleMins:      getEnvInt("STREAM_IDLE_MINUTES", 10),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}
