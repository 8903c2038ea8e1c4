// Package configs provides embedded configuration templates for DocuMind.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they ship inside every distribution: source builds, binary releases and
// package-manager installs alike.
//
// The templates are used by:
//   - cmd/documind/cmd/init.go - creates .documind.yaml at the corpus root
//   - cmd/documind/cmd/config.go - creates ~/.config/documind/config.yaml
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/documind/config.yaml)
//  3. Project config (.documind.yaml)
//  4. Environment variables (DOCUMIND_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration,
// created at ~/.config/documind/config.yaml. It carries machine-specific
// settings such as the embedding endpoint, applying to every corpus on
// this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for corpus-level configuration,
// created by `documind init` as .documind.yaml in the corpus root. It
// carries per-corpus settings such as include/exclude patterns and search
// weights, and is meant to be version-controlled with the documents.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
