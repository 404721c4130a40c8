package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "pachygram" {
		t.Errorf("Expected Name 'pachygram', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  mongoUri: mongodb://localhost:27017
  mongoDb: pachygram_test
  redisAddr: localhost:6379
  withAp: true
  pageSize: 25
  feedFanout: 7
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}
	if config.Conf.MongoDb != "pachygram_test" {
		t.Errorf("Expected MongoDb 'pachygram_test', got '%s'", config.Conf.MongoDb)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp true")
	}
	if config.Conf.PageSize != 25 {
		t.Errorf("Expected PageSize 25, got %d", config.Conf.PageSize)
	}
	if config.Conf.FeedFanout != 7 {
		t.Errorf("Expected FeedFanout 7, got %d", config.Conf.FeedFanout)
	}
}

func TestReadConfEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	t.Setenv("PACHYGRAM_HTTPPORT", "8081")
	t.Setenv("PACHYGRAM_SSLDOMAIN", "override.example")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.HttpPort != 8081 {
		t.Errorf("Expected env override HttpPort 8081, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "override.example" {
		t.Errorf("Expected env override SslDomain 'override.example', got '%s'", config.Conf.SslDomain)
	}

	// Unset paging knobs fall back to their defaults
	if config.Conf.PageSize != 10 {
		t.Errorf("Expected default PageSize 10, got %d", config.Conf.PageSize)
	}
	if config.Conf.FeedFanout != 5 {
		t.Errorf("Expected default FeedFanout 5, got %d", config.Conf.FeedFanout)
	}
}
