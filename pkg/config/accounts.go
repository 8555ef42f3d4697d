package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// SupportedAccountsVersion is the accounts file format this build reads.
const SupportedAccountsVersion = "^1"

const accountsSchemaURL = "https://helm.schemas.local/gateway/accounts.schema.json"

const accountsSchema = `{
  "type": "object",
  "required": ["version", "accounts"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": ["string", "number"]},
    "accounts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
          "bot_token": {"type": "string"},
          "bot_token_env": {"type": "string", "pattern": "^[A-Z_][A-Z0-9_]*$"},
          "callback_url": {"type": "string", "pattern": "^https?://"},
          "message_api_url": {"type": "string", "pattern": "^https?://"}
        },
        "not": {"required": ["bot_token", "bot_token_env"]}
      }
    }
  }
}`

// AccountsFile is the parsed accounts file.
type AccountsFile struct {
	Version  string          `yaml:"version" json:"version"`
	Accounts []AccountConfig `yaml:"accounts" json:"accounts"`
}

// AccountConfig is one bot identity.
type AccountConfig struct {
	ID          string `yaml:"id" json:"id"`
	BotToken    string `yaml:"bot_token,omitempty" json:"bot_token,omitempty"`
	BotTokenEnv string `yaml:"bot_token_env,omitempty" json:"bot_token_env,omitempty"`
	// CallbackURL overrides the computed localhost callback.
	CallbackURL string `yaml:"callback_url,omitempty" json:"callback_url,omitempty"`
	// MessageAPIURL enables in-place post updates through the platform API.
	MessageAPIURL string `yaml:"message_api_url,omitempty" json:"message_api_url,omitempty"`
}

// Credential returns the bot token, reading it from the environment when the
// account names a variable. An empty result means the account signs with a
// random per-process secret.
func (a AccountConfig) Credential() string {
	if a.BotTokenEnv != "" {
		return os.Getenv(a.BotTokenEnv)
	}
	return a.BotToken
}

// Account returns the account with id.
func (f *AccountsFile) Account(id string) (AccountConfig, bool) {
	for _, a := range f.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// LoadAccounts reads and validates an accounts file.
func LoadAccounts(path string) (*AccountsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load accounts %q: %w", path, err)
	}
	return ParseAccounts(data)
}

// ParseAccounts validates data against the accounts schema and version
// constraint, then decodes it.
func ParseAccounts(data []byte) (*AccountsFile, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	if err := validateAccounts(doc); err != nil {
		return nil, err
	}

	var file AccountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	if err := checkVersion(file.Version); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(file.Accounts))
	for _, a := range file.Accounts {
		if seen[a.ID] {
			return nil, fmt.Errorf("accounts: duplicate account %q", a.ID)
		}
		seen[a.ID] = true
	}
	return &file, nil
}

func validateAccounts(doc any) error {
	// The validator expects JSON-decoded values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("accounts: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(accountsSchemaURL, strings.NewReader(accountsSchema)); err != nil {
		return fmt.Errorf("accounts schema load failed: %w", err)
	}
	schema, err := c.Compile(accountsSchemaURL)
	if err != nil {
		return fmt.Errorf("accounts schema compile failed: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("accounts: schema validation failed: %w", err)
	}
	return nil
}

func checkVersion(version string) error {
	constraint, err := semver.NewConstraint(SupportedAccountsVersion)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("accounts: invalid version %q: %w", version, err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("accounts: version %s not supported, need %s", version, SupportedAccountsVersion)
	}
	return nil
}
