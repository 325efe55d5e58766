// Package logging installs the logger factory used by all packages.
//
// Packages hold a dragonboat logger obtained with logger.GetLogger and
// named after the package. Init replaces the factory behind these loggers
// with one writing lines of the form
//
//	2025/01/02 15:04:05 INFO  | depdb        | opened bolt store
//
// and sets the level of every package listed in Packages.
package logging
