package entities

// Example is a single few-shot pair shown to the model in a role's voice
type Example struct {
	User string `json:"user" yaml:"user"`
	AI   string `json:"ai" yaml:"ai"`
}

// RoleProfile represents a persona with its own knowledge scope and voice
type RoleProfile struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Series        string    `json:"series,omitempty" yaml:"series"`
	Avatar        string    `json:"avatar,omitempty" yaml:"avatar"`
	PersonaPrompt string    `json:"personaPrompt,omitempty" yaml:"persona_prompt"`
	Examples      []Example `json:"examples,omitempty" yaml:"examples"`
	Voices        []string  `json:"voices,omitempty" yaml:"voices"`
}

// Voice returns the preferred voice identifier, or "" when the role has none
func (r *RoleProfile) Voice() string {
	if r == nil || len(r.Voices) == 0 {
		return ""
	}
	return r.Voices[0]
}

// FewShot returns up to limit complete example pairs in declaration order
func (r *RoleProfile) FewShot(limit int) []Example {
	if r == nil {
		return nil
	}
	out := make([]Example, 0, limit)
	for _, ex := range r.Examples {
		if ex.User == "" || ex.AI == "" {
			continue
		}
		out = append(out, ex)
		if len(out) >= limit {
			break
		}
	}
	return out
}
