package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "pachygram"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host       string
		HttpPort   int    `yaml:"httpPort"`
		SslDomain  string `yaml:"sslDomain"`
		MongoUri   string `yaml:"mongoUri"`
		MongoDb    string `yaml:"mongoDb"`
		RedisAddr  string `yaml:"redisAddr"`
		WithAp     bool   `yaml:"withAp"`
		PageSize   int    `yaml:"pageSize"`
		FeedFanout int    `yaml:"feedFanout"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("PACHYGRAM_HOST")
	envHttpPort := os.Getenv("PACHYGRAM_HTTPPORT")
	envSslDomain := os.Getenv("PACHYGRAM_SSLDOMAIN")
	envMongoUri := os.Getenv("PACHYGRAM_MONGOURI")
	envMongoDb := os.Getenv("PACHYGRAM_MONGODB")
	envRedisAddr := os.Getenv("PACHYGRAM_REDISADDR")
	envWithAp := os.Getenv("PACHYGRAM_WITH_AP")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envMongoUri != "" {
		c.Conf.MongoUri = envMongoUri
	}

	if envMongoDb != "" {
		c.Conf.MongoDb = envMongoDb
	}

	if envRedisAddr != "" {
		c.Conf.RedisAddr = envRedisAddr
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if c.Conf.PageSize <= 0 {
		c.Conf.PageSize = 10
	}

	if c.Conf.FeedFanout <= 0 {
		c.Conf.FeedFanout = 5
	}

	return c, nil
}
