package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/policyguard/internal/config"
	"github.com/vyrodovalexey/policyguard/internal/oracle/casbinoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/celoracle"
	"github.com/vyrodovalexey/policyguard/internal/oracle/opaoracle"
)

// Engine names.
const (
	EngineCEL    = "cel"
	EngineCasbin = "casbin"
	EngineOPA    = "opa"
)

// Document is a policy document. Exactly the section named by Engine is used.
type Document struct {
	Engine string               `yaml:"engine" validate:"required,oneof=cel casbin opa"`
	CEL    *celoracle.Config    `yaml:"cel,omitempty" validate:"required_if=Engine cel"`
	Casbin *casbinoracle.Config `yaml:"casbin,omitempty" validate:"required_if=Engine casbin"`
	OPA    *opaoracle.Config    `yaml:"opa,omitempty" validate:"required_if=Engine opa"`
}

// Parse decodes a policy document, expanding environment references first.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	if err := config.ValidateStruct(&doc); err != nil {
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	return &doc, nil
}

// LoadFile reads and parses the policy document at path.
func LoadFile(path string) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	data, err := os.ReadFile(absPath) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return Parse(data)
}
