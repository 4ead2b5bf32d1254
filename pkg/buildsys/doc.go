// Package buildsys implements the task runner behind the skeleton's maintenance tasks.
// Tasks are declared in a Starlark script and their commands run on the mvdan.cc/sh shell runtime,
// each task inside its own Python virtualenv.
// A task is a linear list of commands; the first failing command ends it.
package buildsys
