package binarynode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendChildBuildsList(t *testing.T) {
	var n Node
	n.Tag = "message"
	n.AppendChild(Node{Tag: "enc"})
	n.AppendChild(Node{Tag: "device-identity"})

	assert.Len(t, n.Children(), 2)
	assert.Equal(t, "enc", n.Children()[0].Tag)
}

func TestGetChildByTag(t *testing.T) {
	n := Node{Tag: "message", Content: []Node{
		{Tag: "participants"},
		{Tag: "enc"},
	}}
	child, ok := n.GetChildByTag("enc")
	assert.True(t, ok)
	assert.Equal(t, "enc", child.Tag)

	_, ok = n.GetChildByTag("missing")
	assert.False(t, ok)
}

func TestBytesContent(t *testing.T) {
	n := Node{Tag: "enc", Content: []byte{1, 2, 3}}
	assert.Equal(t, []byte{1, 2, 3}, n.Bytes())
	assert.Nil(t, n.Children())
}
