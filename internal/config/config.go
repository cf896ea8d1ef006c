package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Client ClientConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Client: client, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ClientConfig 描述消息客户端连接后端所需的配置。
type ClientConfig struct {
	BaseURL            string
	StreamURL          string
	Token              string
	UserID             int64
	AccountType        string
	DisplayName        string
	InboxDestination   string
	ReceiptDestination string
	ReconnectDelay     time.Duration
	RequestTimeout     time.Duration
	PingInterval       time.Duration
}

// Authenticated 表示是否提供了会话身份。
func (c ClientConfig) Authenticated() bool {
	return c.Token != "" && c.UserID > 0 && c.AccountType != ""
}

func loadClientConfig() (ClientConfig, error) {
	userID, err := parseOptionalInt64Env("TRIPCHAT_USER_ID")
	if err != nil {
		return ClientConfig{}, err
	}

	reconnect, err := parseDurationEnv("TRIPCHAT_RECONNECT_DELAY", 5*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	timeout, err := parseDurationEnv("TRIPCHAT_REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	ping, err := parseDurationEnv("TRIPCHAT_PING_INTERVAL", 25*time.Second)
	if err != nil {
		return ClientConfig{}, err
	}

	baseURL := strings.TrimRight(getEnvOrDefault("TRIPCHAT_BASE_URL", "http://localhost:8080"), "/")
	streamURL := getEnvOrDefault("TRIPCHAT_STREAM_URL", "")
	if streamURL == "" {
		// 未单独配置时由 HTTP 地址推导 websocket 地址。
		streamURL = DeriveStreamURL(baseURL)
	}

	cfg := ClientConfig{
		BaseURL:            baseURL,
		StreamURL:          streamURL,
		Token:              strings.TrimSpace(os.Getenv("TRIPCHAT_TOKEN")),
		AccountType:        strings.ToUpper(strings.TrimSpace(os.Getenv("TRIPCHAT_ACCOUNT_TYPE"))),
		DisplayName:        strings.TrimSpace(os.Getenv("TRIPCHAT_DISPLAY_NAME")),
		InboxDestination:   getEnvOrDefault("TRIPCHAT_INBOX_DESTINATION", "/user/queue/messages"),
		ReceiptDestination: getEnvOrDefault("TRIPCHAT_RECEIPT_DESTINATION", "/app/chat.read"),
		ReconnectDelay:     reconnect,
		RequestTimeout:     timeout,
		PingInterval:       ping,
	}
	if userID != nil {
		cfg.UserID = *userID
	}
	return cfg, nil
}

// DeriveStreamURL 将 http(s)://host 转换为 ws(s)://host/api/ws。
func DeriveStreamURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/api/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/api/ws"
	default:
		return baseURL + "/api/ws"
	}
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
