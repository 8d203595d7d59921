// Package planfile loads task plans from HCL or JSON files.
//
// A plan declares task blocks with dependencies, a pacing domain, an
// opaque command and an optional routing tier hint. HCL plans may
// interpolate environment variables through the env object; JSON plans
// are static.
package planfile
