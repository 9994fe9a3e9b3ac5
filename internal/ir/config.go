package ir

// Config represents the top-level declaration set.
type Config struct {
	Resources []*Resource `pkl:"resources" yaml:"resources" json:"resources"`
}
