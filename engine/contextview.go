package engine

// BuildVars flattens a Context into the variable bindings handed to the
// expression layer (§4.8): each field's current value is addressable
// directly by name, and its full history is addressable under
// `history.<field>` for use with the `accumulated` filter, e.g.
// `{{ history.notes | accumulated }}`. Reserved fields (the
// double-underscore ones) are exposed only under `history`/`operational`/
// `parent`, never as bare top-level names, so workflow authors can't
// accidentally shadow them.
func BuildVars(c *Context) map[string]interface{} {
	vars := make(map[string]interface{}, len(c.Fields)+2)
	history := make(map[string]interface{}, len(c.Fields))

	for name, hist := range c.Fields {
		history[name] = c.GetAccumulated(name)
		if len(name) >= 2 && name[:2] == "__" {
			continue
		}
		vars[name] = hist.Current()
	}

	vars["history"] = history
	vars["operational"] = c.Operational()
	if raw, ok := c.GetField(FieldParent); ok {
		vars["parent"] = raw
	}
	return vars
}

// WithExtra returns a copy of vars with additional key/value pairs merged
// in (e.g. a node's own "output" or "error" before evaluating its signal
// emissions), without mutating the caller's map.
func WithExtra(vars map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars)+len(extra))
	for k, v := range vars {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
