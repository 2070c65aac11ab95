// Package configs embeds the configuration template written by
// `assistchat config init`.
//
// The template mirrors the defaults in internal/config NewConfig(); the
// config tests load it and compare the two, so edit both together.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented assistchat.yaml template.
//
//go:embed assistchat.example.yaml
var ProjectConfigTemplate string
