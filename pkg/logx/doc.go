// Package logx is swarmd's structured logging layer: a thin value-type
// Logger over zerolog with hot-swappable sinks, so the daemon can change
// level and outputs on config reload without re-plumbing loggers.
package logx
