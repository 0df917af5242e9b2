package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	// corpus inputs
	TaxonomyPath     string // empty: compiled-in default
	LocalizeDataPath string
	ReportDataPath   string
	ImageBasePath    string

	// practice caps per modality
	LocalizeCap int
	ReportCap   int

	// grading service
	OracleAPIKey  string
	OracleModel   string
	OracleTimeout time.Duration

	AuthSecret    string
	TokenTTL      time.Duration
	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr: addr,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		TaxonomyPath:     envOr("TAXONOMY_PATH", ""),
		LocalizeDataPath: envOr("LOCALIZE_DATA_PATH", "./data/localize_cases.json"),
		ReportDataPath:   envOr("REPORT_DATA_PATH", "./data/report_cases.json"),
		ImageBasePath:    envOr("IMAGE_BASE_PATH", "./data/images"),

		LocalizeCap: envInt("LOCALIZE_CAP", 375),
		ReportCap:   envInt("REPORT_CAP", 150),

		OracleAPIKey:  os.Getenv("ORACLE_API_KEY"),
		OracleModel:   envOr("ORACLE_MODEL", "gemini-1.5-pro"),
		OracleTimeout: time.Duration(envInt("ORACLE_TIMEOUT_SEC", 60)) * time.Second,

		AuthSecret:    envOr("AUTH_SECRET", "dev-secret-change-me"),
		TokenTTL:      time.Duration(envInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: envOr("ADMIN_PASS_HASH", ""),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
	}
}
func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
