package manifest

// ExpandScripts expands a manifest's "scripts" mapping into standalone
// Action records, inferring an input schema from "{{param}}" tokens when
// the script didn't declare one explicitly (spec §4.A). Every inferred
// parameter becomes a required string property, matching the spec's
// "every inferred param becomes a required string" rule.
func ExpandScripts(m *Manifest) map[string]Action {
	if len(m.Scripts) == 0 {
		return nil
	}

	actions := make(map[string]Action, len(m.Scripts))
	for name, s := range m.Scripts {
		schema := s.InputSchema
		if schema == nil && s.Command.IsArgv() {
			schema = inferSchema(s.Command.Argv)
		}
		actions[name] = Action{
			Name:         name,
			Command:      s.Command,
			InputSchema:  schema,
			OutputSchema: s.OutputSchema,
			Description:  s.Description,
		}
	}
	return actions
}

// inferSchema builds a JSON-Schema object requiring every "{{param}}"
// token found in argv as a required string property.
func inferSchema(argv []string) map[string]any {
	var order []string
	seen := map[string]bool{}
	for _, elem := range argv {
		m := templateTokenRe.FindStringSubmatch(elem)
		if m == nil {
			continue
		}
		name := m[1]
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	if len(order) == 0 {
		return nil
	}

	props := make(map[string]any, len(order))
	for _, name := range order {
		props[name] = map[string]any{"type": "string"}
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   order,
	}
}
