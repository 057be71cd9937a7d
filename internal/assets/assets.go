// Package assets embeds files shipped inside the binary.
package assets

import _ "embed"

// ExampleConfig is the annotated configuration written by `scenario init`.
//
//go:embed example.yaml
var ExampleConfig []byte
