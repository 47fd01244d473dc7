package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig will load config attributes from a yaml file. Values like
// ${ENV_VAR} are expanded from the process environment before parsing.
func LoadConfig(cfn string) (*ServiceConfig, error) {

	confContent, err := os.ReadFile(cfn)
	if err != nil {
		return nil, fmt.Errorf("unable to read configuration file %s: %v", cfn, err)
	}

	confContent = []byte(os.ExpandEnv(string(confContent)))
	sc := ServiceConfig{}

	if err := yaml.Unmarshal(confContent, &sc); err != nil {
		return nil, fmt.Errorf("unable to unmarshal configuration file %s: %v", cfn, err)
	}

	return &sc, nil
}
