// Package config loads axiomme's process configuration.
//
// Configuration is stored at ~/.axiomme/config.yaml and is created with
// defaults on first use. Every key present in that file can be overridden
// with an AXIOMME_-prefixed environment variable, nested fields separated
// by underscores (e.g. AXIOMME_LOGGING_LEVEL=debug). Keys absent from the
// file (optional fields left empty, such as embedder.endpoint in the
// default file) are not read from the environment.
package config
