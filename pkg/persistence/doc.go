// Package persistence stores node state that must survive restarts.
//
// State files are YAML so operators can review and edit trust decisions by
// hand. Identity certificates are stored separately as PEM files by the
// cert package.
package persistence
