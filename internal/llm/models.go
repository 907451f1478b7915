package llm

// modelTable maps the friendly names accepted in configuration and model
// hints to vendor model IDs. Names missing from the table are taken to be
// vendor IDs already.
type modelTable map[string]string

var (
	anthropicModels = modelTable{
		"claude-sonnet": "claude-sonnet-4-20250514",
		"claude-haiku":  "claude-haiku-4-5-20251001",
	}
	openaiModels = modelTable{
		"gpt-4o":      "gpt-4o",
		"gpt-4o-mini": "gpt-4o-mini",
	}
	geminiModels = modelTable{
		"gemini-flash": "gemini-2.0-flash",
		"gemini-pro":   "gemini-2.0-pro",
	}
)

func (t modelTable) resolve(name string) string {
	if id, ok := t[name]; ok {
		return id
	}
	return name
}

// pick returns the model a request should be served by: its own hint when
// set, otherwise the provider default.
func (t modelTable) pick(req Request, def string) string {
	if req.Model == "" {
		return def
	}
	return t.resolve(req.Model)
}

// canonicalModel resolves a friendly name against every vendor table.
func canonicalModel(name string) string {
	for _, t := range []modelTable{anthropicModels, openaiModels, geminiModels} {
		if id, ok := t[name]; ok {
			return id
		}
	}
	return name
}
