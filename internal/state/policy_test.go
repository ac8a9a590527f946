package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/nexus/internal/config"
)

func TestPolicyFromConfig_Defaults(t *testing.T) {
	p := PolicyFromConfig(config.NewConfig().Index)

	assert.Equal(t, int64(50)<<20, p.MaxFileBytes)

	reason, skip := p.Check("/src/lib.so", 10)
	assert.True(t, skip)
	assert.Equal(t, ReasonExtension, reason)

	_, skip = p.Check("/src/notes.md", 10)
	assert.False(t, skip)

	assert.True(t, p.SkipDir("node_modules"))
	assert.True(t, p.SkipDir(".git"))
	assert.False(t, p.SkipDir("docs"))
}

func TestPolicy_SkipImages(t *testing.T) {
	p := Policy{SkipImages: true}

	reason, skip := p.Check("/scan.PNG", 10)

	assert.True(t, skip)
	assert.Equal(t, ReasonImage, reason)
	assert.True(t, IsImage("/x.jpeg"))
	assert.False(t, IsImage("/x.txt"))
}

func TestPolicy_SkipRel(t *testing.T) {
	p := Policy{SkipFiles: []string{"target"}, SkipHidden: true}

	assert.True(t, p.SkipRel("target/out.txt"))
	assert.True(t, p.SkipRel("a/.cache/b.txt"))
	assert.False(t, p.SkipRel("a/b/target.txt"))
	assert.False(t, p.SkipRel("top.txt"))
}
