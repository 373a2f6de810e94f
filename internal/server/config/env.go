package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// envFile is loaded before reading AUTH_* variables when it exists. Variables
// already present in the environment win over the file.
var envFile = ".env"

// parseEnv overlays AUTH_* environment variables. Secrets belong here rather
// than on the command line. Malformed durations or booleans panic.
func parseEnv(config *Config) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("load %s: %w", envFile, err))
	}

	envString(&config.EndpointAddrHTTP, "AUTH_HTTP_ADDR")
	envString(&config.EndpointAddrGRPC, "AUTH_GRPC_ADDR")
	envString(&config.DatabaseDSN, "AUTH_DATABASE_DSN")
	envString(&config.SecretKey, "AUTH_SECRET_KEY")
	envString(&config.TokenIssuer, "AUTH_TOKEN_ISSUER")
	envString(&config.RefreshCookieName, "AUTH_REFRESH_COOKIE_NAME")
	envString(&config.LogLevel, "AUTH_LOG_LEVEL")
	envString(&config.S3RootUser, "AUTH_S3_ROOT_USER")
	envString(&config.S3RootPassword, "AUTH_S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "AUTH_S3_BUCKET")
	envString(&config.S3Region, "AUTH_S3_REGION")
	envString(&config.S3BaseEndpoint, "AUTH_S3_BASE_ENDPOINT")

	envDuration(&config.AccessTokenValidityDuration, "AUTH_ACCESS_TOKEN_TTL")
	envDuration(&config.RefreshTokenValidityDuration, "AUTH_REFRESH_TOKEN_TTL")
	envDuration(&config.AttachmentURLValidity, "AUTH_ATTACHMENT_URL_TTL")

	if v, ok := os.LookupEnv("AUTH_REFRESH_COOKIE_SECURE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(fmt.Errorf("AUTH_REFRESH_COOKIE_SECURE: %w", err))
		}
		config.RefreshCookieSecure = b
	}
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = d
}
