// Package config provides the embedded default Mindney CLI profile.
package config

import _ "embed"

// DefaultConfigYAML is written by "mindney config create" and parsed as the
// base profile before config.yaml and the environment are applied.
//
//go:embed config.default.yaml
var DefaultConfigYAML []byte
