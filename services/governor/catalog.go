package governor

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// AllowlistedAction is one entry of the static action catalog. Nothing outside
// the catalog is ever reachable through preview, approval, or execution.
type AllowlistedAction struct {
	ID            string            `yaml:"id"`
	OS            string            `yaml:"os"`
	Category      string            `yaml:"category"`
	Title         string            `yaml:"title"`
	Description   string            `yaml:"description"`
	Reversible    bool              `yaml:"reversible"`
	EstimatedTime string            `yaml:"estimated_time"`
	Requirements  []string          `yaml:"requirements"`
	Risks         []string          `yaml:"risks"`
	Commands      []string          `yaml:"commands"`
	BackupPaths   []string          `yaml:"backup_paths"`
	Parameters    []string          `yaml:"parameters"`
	Defaults      map[string]string `yaml:"defaults"`
	Executor      string            `yaml:"executor"`
}

// Catalog is the parsed, immutable allowlist. Pure lookup, no side effects.
type Catalog struct {
	actions map[string]AllowlistedAction
	ids     []string
}

// LoadCatalog parses the embedded allowlist. Called once at startup.
func LoadCatalog() (*Catalog, error) {
	return parseCatalog(catalogYAML)
}

func parseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Actions []AllowlistedAction `yaml:"actions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Actions) == 0 {
		return nil, fmt.Errorf("catalog contains no actions")
	}

	actions := make(map[string]AllowlistedAction, len(doc.Actions))
	ids := make([]string, 0, len(doc.Actions))
	for _, action := range doc.Actions {
		if action.ID == "" {
			return nil, fmt.Errorf("catalog action missing id")
		}
		if _, dup := actions[action.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog action %q", action.ID)
		}
		if len(action.Commands) == 0 {
			return nil, fmt.Errorf("catalog action %q has no commands", action.ID)
		}
		if action.Executor == "" {
			action.Executor = executorRemote
		}
		actions[action.ID] = action
		ids = append(ids, action.ID)
	}
	sort.Strings(ids)

	return &Catalog{actions: actions, ids: ids}, nil
}

// Lookup returns the allowlisted action for id, or ErrActionUnknown. The same
// error short-circuits preview, approval, execution, and rollback.
func (c *Catalog) Lookup(id string) (AllowlistedAction, error) {
	action, ok := c.actions[id]
	if !ok {
		return AllowlistedAction{}, fmt.Errorf("%w: %q", ErrActionUnknown, id)
	}
	return action, nil
}

// Actions returns all catalog entries in id order.
func (c *Catalog) Actions() []AllowlistedAction {
	out := make([]AllowlistedAction, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.actions[id])
	}
	return out
}

// RiskLevel classifies an action: medium when it declares any risk, low
// otherwise. Purely descriptive; it gates nothing by itself.
func RiskLevel(action AllowlistedAction) string {
	if len(action.Risks) > 0 {
		return "medium"
	}
	return "low"
}
