package marker

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
)

func TestIsMarker(t *testing.T) {
	f := New("")
	cases := []struct {
		name string
		keys changefeed.Attributes
		want bool
	}{
		{"plain like key", changefeed.Attributes{"commentLikeId": changefeed.StringValue("cl1")}, false},
		{"prefixed partition key", changefeed.Attributes{"commentLikeId": changefeed.StringValue("EVENT#cl1")}, true},
		{"prefixed sort key", changefeed.Attributes{"postId": changefeed.StringValue("p1"), "sk": changefeed.StringValue("EVENT#2024")}, true},
		{"marker attribute", changefeed.Attributes{"postId": changefeed.StringValue("p1"), "recordType": changefeed.StringValue("EVENT_MARKER")}, true},
		{"prefix not at start", changefeed.Attributes{"postId": changefeed.StringValue("p1EVENT#")}, false},
		{"numeric key", changefeed.Attributes{"seq": changefeed.NumberValue("12")}, false},
		{"no keys", nil, false},
	}
	for _, tc := range cases {
		if got := f.IsMarker(tc.keys); got != tc.want {
			t.Fatalf("%s: IsMarker = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsMarker_CustomPrefix(t *testing.T) {
	f := New("PUBLISHED|")
	if !f.IsMarker(changefeed.Attributes{"postId": changefeed.StringValue("PUBLISHED|p1")}) {
		t.Fatal("expected custom prefix to match")
	}
	if f.IsMarker(changefeed.Attributes{"postId": changefeed.StringValue("EVENT#p1")}) {
		t.Fatal("default prefix should not match once overridden")
	}
}

func TestProperty_MarkerPredicateDependsOnlyOnKeys(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	f := New("")

	properties.Property("a prefixed key value always marks the record", prop.ForAll(
		func(id, other string) bool {
			keys := changefeed.Attributes{
				"pk": changefeed.StringValue(DefaultKeyPrefix + id),
				"sk": changefeed.StringValue(other),
			}
			return f.IsMarker(keys) && f.IsMarker(keys)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("identifier keys never mark the record", prop.ForAll(
		func(a, b string) bool {
			return !f.IsMarker(changefeed.Attributes{"pk": changefeed.StringValue(a), "sk": changefeed.StringValue(b)})
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
