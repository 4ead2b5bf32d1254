// Package skeleton ships the task script used when a project has no tasks.star of its own.
package skeleton

import (
	_ "embed"
)

// ScriptName is the file name task scripts are looked up by
const ScriptName = "tasks.star"

// Script is the default task script
//
//go:embed tasks.star
var Script []byte
