// Package agents implements the agent registry: admin-defined personas with
// their reply binding, validation rules and provider-side assistant sync.
package agents

// ModelInfo describes a model offered in the agent editor. The catalog is
// informational; it is not consulted when dispatching replies.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextWindow int    `json:"context_window"`
}

// DefaultModel is the last-resort model for definitions that name none.
const DefaultModel = "gpt-4o-mini"

var catalog = []ModelInfo{
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Description: "Fast and inexpensive, good for most conversations", ContextWindow: 128000},
	{ID: "gpt-4o", Name: "GPT-4o", Description: "Most capable multimodal model", ContextWindow: 128000},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Description: "Previous high-intelligence model", ContextWindow: 128000},
	{ID: "gpt-4", Name: "GPT-4", Description: "Original GPT-4 with a smaller context", ContextWindow: 8192},
	{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Description: "Legacy low-cost model", ContextWindow: 16385},
}

// Models returns a copy of the catalog.
func Models() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel finds a catalog entry by id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
