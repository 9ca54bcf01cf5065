// Package permission compiles the declarative role/permission document
// into per-role action sets.
//
// The document is TOML:
//
//	name = "testapp"
//
//	[role]
//	default = []
//	admin = ["admin"]
//
//	[permission."user"]
//	"usermgt-用户管理" = "default-false:admin-true"
//	"userread-用户查询" = "default-true:admin-true"
//
// Action keys pair an english and a display name split by "-"; values
// grant or deny the action per role, entries split by ":".
package permission

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the raw parsed document.
type Config struct {
	Name       string                       `toml:"name"`
	Role       map[string][]string          `toml:"role"`
	Permission map[string]map[string]string `toml:"permission"`
}

// Item is one action with its grant state for a given role.
type Item struct {
	Eng     string
	Chn     string
	Enabled bool
}

// Action groups items by page.
type Action struct {
	Actions map[string][]Item
}

type roleEntry struct {
	actions  Action
	accounts []string
}

// Group is the compiled permission set: per-role actions plus the
// accounts assigned to each role.
type Group struct {
	roles map[string]roleEntry
}

// Parse decodes and compiles a TOML document.
func Parse(data []byte) (*Group, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse permission config: %w", err)
	}
	return Compile(cfg)
}

// Load reads and compiles a document from disk.
func Load(path string) (*Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Compile builds the per-role action sets from a parsed config. Every
// role sees every declared action; actions not granted to it are carried
// disabled.
func Compile(cfg Config) (*Group, error) {
	g := &Group{roles: make(map[string]roleEntry)}

	for role, accounts := range cfg.Role {
		entry := roleEntry{
			actions:  Action{Actions: make(map[string][]Item)},
			accounts: accounts,
		}

		for page, actionMap := range cfg.Permission {
			for key, grants := range actionMap {
				eng, chn, err := splitActionKey(key)
				if err != nil {
					return nil, err
				}
				granted, err := parseGrants(grants)
				if err != nil {
					return nil, err
				}
				entry.actions.Actions[page] = append(entry.actions.Actions[page], Item{
					Eng:     eng,
					Chn:     chn,
					Enabled: granted[role],
				})
			}
		}

		g.roles[role] = entry
	}
	return g, nil
}

func splitActionKey(key string) (eng, chn string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("action key %q must be eng and display name split by -", key)
	}
	return parts[0], parts[1], nil
}

func parseGrants(grants string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, pair := range strings.Split(grants, ":") {
		parts := strings.Split(pair, "-")
		if len(parts) != 2 {
			return nil, fmt.Errorf("grant %q must be role and status split by -", pair)
		}
		out[parts[0]] = parts[1] == "true"
	}
	return out, nil
}

// Roles maps each role name to its assigned accounts.
func (g *Group) Roles() map[string][]string {
	out := make(map[string][]string, len(g.roles))
	for role, entry := range g.roles {
		out[role] = append([]string(nil), entry.accounts...)
	}
	return out
}

// UserPermissions returns the action sets of every role the account
// belongs to. Accounts always inherit the default role when one is
// declared.
func (g *Group) UserPermissions(account string) map[string]Action {
	out := make(map[string]Action)
	for role, entry := range g.roles {
		for _, a := range entry.accounts {
			if a == account {
				out[role] = entry.actions
				break
			}
		}
	}
	if _, ok := out["default"]; !ok {
		if def, ok := g.roles["default"]; ok {
			out["default"] = def.actions
		}
	}
	return out
}

// CheckUserAction reports whether any of the account's roles grants the
// action on the page.
func (g *Group) CheckUserAction(account, page, action string) bool {
	for _, roleActions := range g.UserPermissions(account) {
		for _, item := range roleActions.Actions[page] {
			if item.Eng == action && item.Enabled {
				return true
			}
		}
	}
	return false
}
