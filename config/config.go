package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Provider struct {
		Addr   string `yaml:"addr"`
		APIKey string `yaml:"api_key"`
	} `yaml:"provider"`
	Poll struct {
		IntervalSeconds    int `yaml:"interval_seconds"`
		MaxIntervalSeconds int `yaml:"max_interval_seconds"`
		TimeoutMinutes     int `yaml:"timeout_minutes"`
	} `yaml:"poll"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	Media struct {
		AudioDir string `yaml:"audio_dir"`
	} `yaml:"media"`
}

var AppConfig *Config

func InitConfig() {
	path := os.Getenv("REELFORGE_CONFIG")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}
	applyDefaults(AppConfig)
}

func applyDefaults(c *Config) {
	if c.Server.Port == "" {
		c.Server.Port = ":5002"
	}
	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = 3
	}
	if c.Poll.MaxIntervalSeconds <= 0 {
		c.Poll.MaxIntervalSeconds = 30
	}
	if c.Poll.TimeoutMinutes <= 0 {
		c.Poll.TimeoutMinutes = 30
	}
	if c.Media.AudioDir == "" {
		c.Media.AudioDir = "audios"
	}
}
