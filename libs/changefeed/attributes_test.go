package changefeed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
)

func TestAttributes_MissingAndNullAreAbsentNotErrors(t *testing.T) {
	var nilMap Attributes
	if _, ok := nilMap.String("userId"); ok {
		t.Fatal("nil map should report absent")
	}
	if _, ok, err := nilMap.Bool("isActive"); ok || err != nil {
		t.Fatalf("nil map Bool: ok=%v err=%v", ok, err)
	}
	if _, ok, err := nilMap.Time("createdAt"); ok || err != nil {
		t.Fatalf("nil map Time: ok=%v err=%v", ok, err)
	}

	attrs := Attributes{"deletedAt": NullValue()}
	if _, ok, err := attrs.Time("deletedAt"); ok || err != nil {
		t.Fatalf("NULL attribute: ok=%v err=%v", ok, err)
	}
}

func TestAttributes_String(t *testing.T) {
	attrs := Attributes{"postId": StringValue("p1"), "likeCount": NumberValue("42"), "isActive": BoolValue(true)}
	if v, ok := attrs.String("postId"); !ok || v != "p1" {
		t.Fatalf("expected p1, got %q (%v)", v, ok)
	}
	if v, ok := attrs.String("likeCount"); !ok || v != "42" {
		t.Fatalf("expected 42, got %q (%v)", v, ok)
	}
	if _, ok := attrs.String("isActive"); ok {
		t.Fatal("BOOL should not read as string")
	}
}

func TestAttributes_Bool(t *testing.T) {
	cases := []struct {
		name    string
		value   AttributeValue
		want    bool
		wantErr bool
	}{
		{"bool true", BoolValue(true), true, false},
		{"bool false", BoolValue(false), false, false},
		{"number one", NumberValue("1"), true, false},
		{"string false", StringValue("false"), false, false},
		{"number two", NumberValue("2"), false, true},
		{"garbage string", StringValue("yes please"), false, true},
		{"list", lambdaevents.NewListAttribute([]AttributeValue{}), false, true},
	}
	for _, tc := range cases {
		got, ok, err := Attributes{"isActive": tc.value}.Bool("isActive")
		if !ok {
			t.Fatalf("%s: expected present", tc.name)
		}
		if tc.wantErr {
			if !errors.Is(err, ErrCoercion) {
				t.Fatalf("%s: expected ErrCoercion, got %v", tc.name, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %v err=%v", tc.name, got, err)
		}
	}
}

func TestAttributes_Time(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]AttributeValue{
		"rfc3339":       StringValue("2024-01-01T00:00:00Z"),
		"offset":        StringValue("2024-01-01T02:00:00+02:00"),
		"epoch seconds": NumberValue("1704067200"),
		"epoch millis":  NumberValue("1704067200000"),
	}
	for name, v := range cases {
		got, ok, err := Attributes{"createdAt": v}.Time("createdAt")
		if err != nil || !ok || !got.Equal(want) {
			t.Fatalf("%s: got %s ok=%v err=%v", name, got, ok, err)
		}
		if got.Location() != time.UTC {
			t.Fatalf("%s: expected UTC, got %s", name, got.Location())
		}
	}

	if _, _, err := (Attributes{"createdAt": StringValue("yesterday")}).Time("createdAt"); !errors.Is(err, ErrCoercion) {
		t.Fatalf("expected ErrCoercion, got %v", err)
	}
	if _, _, err := (Attributes{"createdAt": NumberValue("1.5e9")}).Time("createdAt"); !errors.Is(err, ErrCoercion) {
		t.Fatalf("expected ErrCoercion, got %v", err)
	}
}

func TestAttributes_ZeroValueIsAbsent(t *testing.T) {
	attrs := Attributes{"isActive": AttributeValue{}}
	if _, ok, err := attrs.Bool("isActive"); ok || err != nil {
		t.Fatalf("zero value should read as absent, got ok=%v err=%v", ok, err)
	}
	if _, ok := attrs.String("isActive"); ok {
		t.Fatal("zero value should read as absent")
	}
}

func TestAttributes_DecodesWireForm(t *testing.T) {
	var attrs Attributes
	raw := `{"postId": {"S": "p1"}, "isActive": {"BOOL": true}, "createdAt": {"N": "1704067200"}, "deletedAt": {"NULL": true}}`
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := attrs.String("postId"); !ok || v != "p1" {
		t.Fatalf("expected p1, got %q", v)
	}
	if b, ok, err := attrs.Bool("isActive"); !ok || !b || err != nil {
		t.Fatalf("expected true, got %v ok=%v err=%v", b, ok, err)
	}
	if _, ok, _ := attrs.Time("deletedAt"); ok {
		t.Fatal("NULL should read as absent")
	}
}
