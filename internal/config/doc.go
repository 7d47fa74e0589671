// Package config defines run settings for the extraction tool and
// provides helpers to load, validate and save them in YAML format.
package config
