package config

import "errors"

var (
	errIsolatorInShared = errors.New("hart isolator cannot be used in shared context")
	errLoggerNotShared  = errors.New("access logger can only be used in shared context")
)
