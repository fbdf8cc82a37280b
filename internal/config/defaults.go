package config

import "gopkg.in/yaml.v3"

// defaults mirrors the structure of the embedded defaults.yaml file.
type defaults struct {
	Matching struct {
		Threshold      float64 `yaml:"threshold"`
		MinClusterSize int     `yaml:"min_cluster_size"`
		MinConfidence  float64 `yaml:"min_confidence"`
		SimilarLimit   int     `yaml:"similar_limit"`
	} `yaml:"matching"`
	Jobs struct {
		StallTimeoutSeconds int `yaml:"stall_timeout_seconds"`
	} `yaml:"jobs"`
	Embedding struct {
		Model string `yaml:"model"`
		Dim   int    `yaml:"dim"`
	} `yaml:"embedding"`
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}
