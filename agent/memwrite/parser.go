package memwrite

import "strings"

// Command is one parsed model-emitted memory operation, e.g.
// v_add(document=...), v_update(uuid=..., new_document=...) or
// update_username(new_name=...).
type Command struct {
	Func string
	Args map[string]string
}

// parseCommands extracts commands from raw model output, one per line.
// Parsing stops at the first line starting with "##"; empty lines and lines
// without a call form are skipped. Argument values may be quoted.
func parseCommands(raw string) []Command {
	var cmds []Command
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "##") {
			break
		}
		if line == "" {
			continue
		}

		open := strings.Index(line, "(")
		if open < 0 {
			continue
		}
		name := strings.TrimSpace(line[:open])
		body := strings.TrimSuffix(strings.TrimSpace(line[open+1:]), ")")

		args := map[string]string{}
		for _, part := range strings.Split(body, ",") {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			v = strings.TrimSpace(v)
			v = strings.Trim(v, `"'`)
			if k != "" {
				args[k] = v
			}
		}
		cmds = append(cmds, Command{Func: name, Args: args})
	}
	return cmds
}

// resolveID expands a possibly-prefixed id against candidates, first match
// wins. An empty result means the reference is dangling.
func resolveID(prefix string, candidates []string) string {
	if prefix == "" {
		return ""
	}
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			return c
		}
	}
	return ""
}
