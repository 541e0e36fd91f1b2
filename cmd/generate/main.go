package main

import (
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/meridian-lab/meridian-trading/internal/config"
)

// main regenerates the config JSON schema and, when absent, a sample YAML
// config pointing at it.
func main() {
	cfg := config.DefaultConfig()

	schemaJSON, err := cfg.GenerateSchemaJSON()
	if err != nil {
		log.Fatalf("Failed to generate schema: %v", err)
	}

	schemaName := "trading-config.json"
	schemaPath := filepath.Join("./config", schemaName)
	samplePath := filepath.Join("./config", "trading.yaml")

	if err := os.MkdirAll(filepath.Dir(schemaPath), 0755); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}

	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0644); err != nil {
		log.Fatalf("Failed to write schema to file: %v", err)
	}

	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		yamlBytes, err := yaml.Marshal(cfg)
		if err != nil {
			log.Fatalf("Failed to marshal sample config to yaml: %v", err)
		}

		yamlBytes = append([]byte("# yaml-language-server: $schema="+schemaName+"\n"), yamlBytes...)

		if err := os.WriteFile(samplePath, yamlBytes, 0644); err != nil {
			log.Fatalf("Failed to write sample config to file: %v", err)
		}

		log.Printf("Sample config successfully generated at %s", samplePath)
	}

	log.Printf("Schema successfully generated at %s", schemaPath)
}
