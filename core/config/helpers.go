package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAllSettings returns the runtime settings served by /api/app/settings.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"pairing_poll_interval":       Global.Pairing.PollInterval.String(),
		"pairing_check_timeout":       Global.Pairing.CheckTimeout.String(),
		"pairing_max_retries":         Global.Pairing.MaxRetries,
		"dispatch_send_delay":         Global.Dispatch.SendDelay.String(),
		"dispatch_scheduler_interval": Global.Dispatch.SchedulerInterval.String(),
		"dispatch_max_media_size":     Global.Dispatch.MaxMediaSize,
		"dispatch_allowed_mime_types": Global.Dispatch.AllowedMimeTypes,
		"provider_verify_on_create":   Global.Provider.VerifyOnCreate,
		"provider_create_remote":      Global.Provider.CreateRemote,
		"app_debug":                   Global.App.Debug,
		"app_version":                 Global.App.Version,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		vLower := strings.ToLower(v)
		return vLower == "1" || vLower == "true" || vLower == "yes" || vLower == "on"
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("5s") or plain integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
