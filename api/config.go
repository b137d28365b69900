package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 是這個服務實例的識別，作為consumer group中的consumer名稱
	ID string

	S3    S3Config
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
}

type S3Config struct {
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	Bucket           string
	PublicBaseURL    string
	RateLimitPerHour int64
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 是所有鍵的前綴，用於隔離不同環境
	KeyPrefix string
	// ConsumerGroup 是出價同步worker的consumer group名稱
	ConsumerGroup string
	// ExpireTime 是最高出價快取的過期時間
	ExpireTime time.Duration

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Tender string
}

// AuthConfig 是存取憑證的驗證設定
// 憑證的簽發在系統外部，這裡只需要驗證用的公鑰
type AuthConfig struct {
	PublicKey ed25519.PublicKey
	Issuer    string
	Audience  string
}
