package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in    string
		kind  SelectorKind
		value string
	}{
		{"#login", CSS, "#login"},
		{"  button[type=submit] ", CSS, "button[type=submit]"},
		{"xpath=//input[@name='q']", XPath, "//input[@name='q']"},
		{"//a[contains(., 'Next')]", XPath, "//a[contains(., 'Next')]"},
		{"(//button)[2]", XPath, "(//button)[2]"},
		{"text=  Sign   in ", Text, "Sign in"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseSelector(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestSelector_XPathExpr(t *testing.T) {
	assert.Equal(t, "", ParseSelector(".btn").XPathExpr())
	assert.Equal(t, "//div", ParseSelector("xpath=//div").XPathExpr())
	assert.Equal(t,
		`//*[normalize-space(.)="Log in"][not(*[normalize-space(.)="Log in"])]`,
		ParseSelector("text=Log in").XPathExpr())
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `"plain"`, xpathLiteral("plain"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "quoted", '"', "")`, xpathLiteral(`it's "quoted"`))
}

func TestSelectorKind_String(t *testing.T) {
	assert.Equal(t, "css", CSS.String())
	assert.Equal(t, "xpath", XPath.String())
	assert.Equal(t, "text", Text.String())
}
