// Package state provides filesystem-backed storage for the CLI: the stored
// wallet credential and the local upload history.
package state
