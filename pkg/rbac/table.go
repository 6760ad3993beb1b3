package rbac

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// roleTableFile is the on-disk shape of a role table.
type roleTableFile struct {
	Roles map[string]roleFileEntry `yaml:"roles"`
}

type roleFileEntry struct {
	DisplayName         string              `yaml:"displayName"`
	Inherits            []string            `yaml:"inherits"`
	ResourcePermissions map[string][]string `yaml:"resourcePermissions"`
}

// LoadRoleTable reads a YAML role table from path.
func LoadRoleTable(path string) (RoleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Problem: "failed to open role table", Err: err}
	}
	defer f.Close()
	return DecodeRoleTable(f)
}

// DecodeRoleTable parses a YAML role table. Structural problems are
// reported as configuration errors; catalog checks happen in NewRegistry.
func DecodeRoleTable(r io.Reader) (RoleTable, error) {
	var file roleTableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, &ConfigurationError{Problem: "failed to parse role table", Err: err}
	}

	table := make(RoleTable, len(file.Roles))
	for name, entry := range file.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return nil, &ConfigurationError{Role: name, Problem: "unknown role", Err: err}
		}

		def := RoleDefinition{
			DisplayName:         entry.DisplayName,
			ResourcePermissions: make(map[Resource][]Action, len(entry.ResourcePermissions)),
		}
		for _, parentName := range entry.Inherits {
			parent, err := ParseRole(parentName)
			if err != nil {
				return nil, &ConfigurationError{Role: name, Problem: "inherits unknown role", Err: err}
			}
			def.Inherits = append(def.Inherits, parent)
		}
		for res, actions := range entry.ResourcePermissions {
			parsed := make([]Action, 0, len(actions))
			for _, a := range actions {
				action, err := ParseAction(a)
				if err != nil {
					return nil, &ConfigurationError{Role: name, Problem: fmt.Sprintf("resource %s", res), Err: err}
				}
				parsed = append(parsed, action)
			}
			def.ResourcePermissions[Resource(res)] = parsed
		}
		table[role] = def
	}
	return table, nil
}

// EncodeRoleTable writes table in the same YAML shape LoadRoleTable reads.
func EncodeRoleTable(w io.Writer, table RoleTable) error {
	file := roleTableFile{Roles: make(map[string]roleFileEntry, len(table))}
	for role, def := range table {
		entry := roleFileEntry{
			DisplayName:         def.DisplayName,
			ResourcePermissions: make(map[string][]string, len(def.ResourcePermissions)),
		}
		for _, parent := range def.Inherits {
			entry.Inherits = append(entry.Inherits, parent.String())
		}
		for res, actions := range def.ResourcePermissions {
			names := make([]string, 0, len(actions))
			for _, a := range actions {
				names = append(names, string(a))
			}
			entry.ResourcePermissions[string(res)] = names
		}
		file.Roles[role.String()] = entry
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode role table: %w", err)
	}
	return enc.Close()
}
