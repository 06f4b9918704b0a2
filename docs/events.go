package docs

import _ "embed"

// EventCatalog is the gateway event catalog in YAML.
//
//go:embed events.yml
var EventCatalog []byte
