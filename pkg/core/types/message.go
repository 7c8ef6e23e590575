package types

// Message is the decoded intent-recognition result.
type Message struct {
	ID       string              `json:"msg_id,omitempty"`
	Text     string              `json:"text"`
	Intents  []Intent            `json:"intents"`
	Entities map[string][]Entity `json:"entities,omitempty"`
	Traits   map[string][]Trait  `json:"traits,omitempty"`

	// Set on streamed speech results.
	Type    string `json:"type,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// Intent is a classified intent with its confidence.
type Intent struct {
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is an extracted entity span.
type Entity struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name"`
	Role       string              `json:"role,omitempty"`
	Start      int                 `json:"start"`
	End        int                 `json:"end"`
	Body       string              `json:"body"`
	Confidence float64             `json:"confidence"`
	Value      any                 `json:"value,omitempty"`
	Entities   map[string][]Entity `json:"entities,omitempty"`
}

// Trait is a whole-utterance trait such as sentiment.
type Trait struct {
	ID         string  `json:"id,omitempty"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// TopIntent returns the highest-confidence intent, or nil if there are none.
func (m *Message) TopIntent() *Intent {
	if m == nil || len(m.Intents) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(m.Intents); i++ {
		if m.Intents[i].Confidence > m.Intents[best].Confidence {
			best = i
		}
	}
	return &m.Intents[best]
}

// Entity returns the first entity stored under key ("name:role").
func (m *Message) Entity(key string) (Entity, bool) {
	if m == nil {
		return Entity{}, false
	}
	es := m.Entities[key]
	if len(es) == 0 {
		return Entity{}, false
	}
	return es[0], true
}
