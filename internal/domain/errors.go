package domain

import "fmt"

// InsufficientDataError reports a computation that needs more data
// than the corpus provides. It propagates to the caller; analyzers
// never substitute zeroes for statistics they could not compute.
type InsufficientDataError struct {
	Op   string
	Need int
	Got  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d transactions, got %d", e.Op, e.Need, e.Got)
}

// MalformedRecordError reports an input record that cannot enter a
// run: a missing required field or a reference to a card or merchant
// that does not exist. It fails the whole run.
type MalformedRecordError struct {
	Source string
	Line   int
	TxID   string
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	msg := "malformed record"
	if e.Source != "" {
		msg = fmt.Sprintf("%s: %s", e.Source, msg)
		if e.Line > 0 {
			msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
		}
	}
	if e.TxID != "" {
		msg = fmt.Sprintf("%s: tx %s", msg, e.TxID)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	return msg
}

// ConfigError reports an invalid configuration value found at load
// time, before any analysis starts.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Key, e.Reason)
}
