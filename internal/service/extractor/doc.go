// Package extractor orchestrates a run: it selects the container
// backend, walks the capsules of every input installer, searches each
// capsule for GUID-tagged firmware files and hands the executable
// images found inside them to a sink.
package extractor
