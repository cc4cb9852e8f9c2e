package config

import (
	"context"
	"fmt"
	"strconv"

	"dams-sync/internal/models"
	"dams-sync/pkg/database"
	"dams-sync/pkg/logging"
)

// Source setting keys
const (
	KeyServerMode     = "server_mode"
	KeyServerIP       = "server_ip"
	KeyServerName     = "server_name"
	KeyServerUser     = "server_user"
	KeyServerPassword = "server_password"
	KeyServerPort     = "server_port"
	KeyServerSSLMode  = "server_sslmode"
)

var requiredSourceKeys = []string{KeyServerMode, KeyServerIP, KeyServerName, KeyServerUser, KeyServerPassword}

// CredentialStore resolves a user/password pair for a database server
type CredentialStore interface {
	Resolve(ctx context.Context, host, name string) (user, password string, err error)
}

// DBSettings is a fully resolved set of connection settings
type DBSettings struct {
	Mode     string
	Host     string
	Port     int
	Name     string
	User     string
	Password *string
	SSLMode  string
}

// DatabaseConfig converts the settings into a pkg/database configuration
func (s *DBSettings) DatabaseConfig() *database.Config {
	cfg := &database.Config{
		Driver:       s.Mode,
		Host:         s.Host,
		Port:         s.Port,
		User:         s.User,
		Database:     s.Name,
		SSLMode:      s.SSLMode,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
	if s.Password != nil {
		cfg.Password = *s.Password
	}
	return cfg
}

// NormalizeDBSettings validates raw source settings and completes missing
// credentials from store. raw is never modified.
//
// Credential combinations:
//
//	user   password  result
//	null   null      resolved from store (one lookup)
//	set    null      accepted, no password
//	set    set       accepted
//	other            ConfigurationError
func NormalizeDBSettings(ctx context.Context, raw map[string]interface{}, store CredentialStore, logger *logging.StructuredLogger) (*DBSettings, error) {
	for _, key := range requiredSourceKeys {
		if _, ok := raw[key]; !ok {
			logger.Error(ctx, "[CONFIG_ERROR] Server field not defined", logging.Fields{"field": key}, nil)
			return nil, &models.ConfigurationError{Field: key, Message: "field not defined"}
		}
	}

	settings := &DBSettings{}
	var err error
	if settings.Mode, err = requireString(raw, KeyServerMode); err != nil {
		return nil, err
	}
	if settings.Mode != database.DriverPostgres && settings.Mode != database.DriverSQLite {
		return nil, &models.ConfigurationError{Field: KeyServerMode, Message: fmt.Sprintf("unsupported mode %q", settings.Mode)}
	}
	if settings.Host, err = requireString(raw, KeyServerIP); err != nil {
		return nil, err
	}
	if settings.Name, err = requireString(raw, KeyServerName); err != nil {
		return nil, err
	}
	if settings.Port, err = optionalPort(raw); err != nil {
		return nil, err
	}
	if mode, ok := raw[KeyServerSSLMode].(string); ok {
		settings.SSLMode = mode
	}

	user, userNull, err := nullableString(raw, KeyServerUser)
	if err != nil {
		return nil, err
	}
	password, passwordNull, err := nullableString(raw, KeyServerPassword)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "[CONFIG_CREDENTIALS] Search password and user", logging.Fields{"server": settings.Name})

	switch {
	case userNull && passwordNull:
		resolvedUser, resolvedPassword, err := store.Resolve(ctx, settings.Host, settings.Name)
		if err != nil {
			return nil, &models.CredentialResolutionError{Server: settings.Name, Err: err}
		}
		settings.User = resolvedUser
		settings.Password = &resolvedPassword
		logger.Info(ctx, "[CONFIG_CREDENTIALS] Credentials found in credential store", logging.Fields{"server": settings.Name})

	case passwordNull && user != "":
		settings.User = user
		logger.Info(ctx, "[CONFIG_CREDENTIALS] Credentials found in configuration (password is null)", logging.Fields{"server": settings.Name})

	case !userNull && !passwordNull && user != "" && password != "":
		settings.User = user
		settings.Password = &password
		logger.Info(ctx, "[CONFIG_CREDENTIALS] Credentials found in configuration", logging.Fields{"server": settings.Name})

	default:
		logger.Error(ctx, "[CONFIG_ERROR] Server user and password combination is not allowed", logging.Fields{"server": settings.Name}, nil)
		return nil, &models.ConfigurationError{
			Field:   KeyServerUser + "/" + KeyServerPassword,
			Message: "user and password combination is not allowed",
		}
	}

	return settings, nil
}

func requireString(raw map[string]interface{}, key string) (string, error) {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return "", &models.ConfigurationError{Field: key, Message: "must be a non-empty string"}
	}
	return s, nil
}

// nullableString distinguishes an explicit null from a string value
func nullableString(raw map[string]interface{}, key string) (value string, isNull bool, err error) {
	switch v := raw[key].(type) {
	case nil:
		return "", true, nil
	case string:
		return v, false, nil
	default:
		return "", false, &models.ConfigurationError{Field: key, Message: fmt.Sprintf("must be a string or null, got %T", v)}
	}
}

func optionalPort(raw map[string]interface{}) (int, error) {
	switch v := raw[KeyServerPort].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, &models.ConfigurationError{Field: KeyServerPort, Message: fmt.Sprintf("invalid port %q", v)}
		}
		return port, nil
	default:
		return 0, &models.ConfigurationError{Field: KeyServerPort, Message: fmt.Sprintf("invalid port type %T", v)}
	}
}
