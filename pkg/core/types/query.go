package types

// QueryKind identifies the shape of a query.
type QueryKind string

const (
	QueryText      QueryKind = "text"
	QueryVoice     QueryKind = "voice"
	QueryVoiceAuto QueryKind = "voice_auto"
)

// String returns the kind as used in logs and metric labels.
func (k QueryKind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k QueryKind) Valid() bool {
	switch k {
	case QueryText, QueryVoice, QueryVoiceAuto:
		return true
	default:
		return false
	}
}
