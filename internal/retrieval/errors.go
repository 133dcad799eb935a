package retrieval

import "fmt"

type ConfigErrorCode string

const (
	ConfigErrorCorpusUnreachable ConfigErrorCode = "corpus_unreachable"
	ConfigErrorCorpusMalformed   ConfigErrorCode = "corpus_malformed"
	ConfigErrorMissingColumn     ConfigErrorCode = "missing_column"
	ConfigErrorIndexUnavailable  ConfigErrorCode = "index_unavailable"
)

// ConfigError reports a retriever that cannot be constructed.
type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid retriever config"
	}
	switch e.Code {
	case ConfigErrorCorpusUnreachable:
		return fmt.Sprintf("example corpus unreachable: %q: %v", e.Value, e.Cause)
	case ConfigErrorCorpusMalformed:
		return fmt.Sprintf("example corpus malformed: %q: %v", e.Value, e.Cause)
	case ConfigErrorMissingColumn:
		return fmt.Sprintf("example corpus missing column %q", e.Value)
	case ConfigErrorIndexUnavailable:
		return fmt.Sprintf("vector index unavailable: %v", e.Cause)
	default:
		return "invalid retriever config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RetrievalError reports a failed retrieval. Empty results are not errors.
type RetrievalError struct {
	Op    string
	Cause error
}

func (e *RetrievalError) Error() string {
	if e == nil {
		return "retrieval failed"
	}
	return fmt.Sprintf("retrieval %s failed: %v", e.Op, e.Cause)
}

func (e *RetrievalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
