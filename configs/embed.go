package configs

import _ "embed"

// Default is the shipped default configuration file.
//
//go:embed ptytest.yaml
var Default []byte
