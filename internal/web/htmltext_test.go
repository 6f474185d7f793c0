package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text", in: "  just text ", want: "just text"},
		{name: "inline tags", in: "<b>bold</b> and <i>italic</i>", want: "bold and italic"},
		{name: "block tags", in: "<div>one</div><div>two</div>", want: "one\ntwo"},
		{name: "line breaks", in: "first<br>second<br/>third", want: "first\nsecond\nthird"},
		{name: "entities", in: "a &lt; b &amp;&amp; c", want: "a < b && c"},
		{name: "list", in: "<ul><li>x</li><li>y</li></ul>", want: "x\ny"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripHTML(tt.in))
		})
	}
	assert.Equal(t, "", stripHTMLPtr(nil))
}
