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
    Worker struct {
        Addr string `yaml:"addr"`
    } `yaml:"worker"`
    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`
    Flavors struct {
        Dir string `yaml:"dir"`
    } `yaml:"flavors"`
    Generation struct {
        MaxRetries        int     `yaml:"max_retries"`
        InitialDelayMs    int     `yaml:"initial_delay_ms"`
        MaxDelayMs        int     `yaml:"max_delay_ms"`
        BackoffMultiplier float64 `yaml:"backoff_multiplier"`
    } `yaml:"generation"`
}

var AppConfig *Config

func InitConfig() {
    f, err := os.Open("config/config.yaml")
    if err != nil {
        log.Fatalf("failed to read config file: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("failed to parse config file: %v", err)
    }
    if AppConfig.Flavors.Dir == "" {
        AppConfig.Flavors.Dir = "config/flavors"
    }
}
