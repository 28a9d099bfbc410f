package display

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tessera/errors"
)

func TestShouldOutputJSON(t *testing.T) {
	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().Bool("json", false, "")
	child := &cobra.Command{Use: "child"}
	child.Flags().BoolP("json", "j", false, "")
	plain := &cobra.Command{Use: "plain"}
	root.AddCommand(child, plain)

	assert.False(t, ShouldOutputJSON(nil))
	assert.False(t, ShouldOutputJSON(plain))

	require.NoError(t, child.Flags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(child))

	require.NoError(t, root.PersistentFlags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(plain))
}

func TestOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, OutputJSON(&buf, map[string]int{"versions": 3}))
	assert.Equal(t, "{\n  \"versions\": 3\n}\n", buf.String())

	err := OutputJSON(&buf, make(chan int))
	assert.True(t, errors.Is(err, errors.ErrSerialization))
}
