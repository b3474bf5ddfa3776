package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spamguard/spamrag/errdefs"
)

func TestRenderOData(t *testing.T) {
	cases := []struct {
		name string
		expr Expr
		want string
	}{
		{"nil", nil, ""},
		{"equals escapes quotes", Equals("country", "Côte d'Ivoire"), "country eq 'Côte d''Ivoire'"},
		{"one of", OneOf("service", "a", "b"), "(service eq 'a' or service eq 'b')"},
		{"one of single", OneOf("service", "a"), "service eq 'a'"},
		{"and", And(Equals("type_dataset", "train"), nil, OneOf("service", "a", "b")),
			"type_dataset eq 'train' and (service eq 'a' or service eq 'b')"},
		{"or of ands", Or(And(Equals("a", "1"), Equals("b", "2")), Equals("a", "3")),
			"(a eq '1' and b eq '2') or a eq '3'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RenderOData(tc.expr))
		})
	}
}

func TestRenderMilvus(t *testing.T) {
	e := And(Equals("year", "2022"), OneOf("country", `Bra"sil`, "Chile"))
	assert.Equal(t, `year == "2022" and country in ["Bra\"sil", "Chile"]`, RenderMilvus(e))
}

func TestValidate(t *testing.T) {
	allowed := func(f string) bool { return f == "country" || f == "year" }

	assert.NoError(t, Validate(And(Equals("country", "Brasil"), Equals("year", "2022")), allowed))
	assert.NoError(t, Validate(nil, allowed))

	err := Validate(Equals("message", "x"), allowed)
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)

	err = Validate(Equals("year eq '1' or 1", "x"), func(string) bool { return true })
	assert.ErrorIs(t, err, errdefs.ErrInvalidInput)
}

func TestFieldsSortedUnique(t *testing.T) {
	e := And(Equals("b", "1"), Or(Equals("a", "2"), Equals("b", "3")))
	assert.Equal(t, []string{"a", "b"}, Fields(e))
}
