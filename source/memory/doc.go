// Package memory provides an in-process FeatureSource, mainly for tests and
// small static layers.
package memory
