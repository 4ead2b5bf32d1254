package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.starlark.net/syntax"
)

func TestScriptIsValidStarlark(t *testing.T) {
	assert.NotEmpty(t, Script)

	_, err := syntax.Parse(ScriptName, Script, 0)
	assert.NoError(t, err)
}
