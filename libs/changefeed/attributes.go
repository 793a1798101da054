package changefeed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
)

// ErrCoercion is returned when an attribute is present but cannot be read as the requested type.
var ErrCoercion = errors.New("attribute coercion failed")

// AttributeValue is one typed value of a schemaless row image, in the stream's wire form.
type AttributeValue = lambdaevents.DynamoDBAttributeValue

func StringValue(v string) AttributeValue { return lambdaevents.NewStringAttribute(v) }
func NumberValue(v string) AttributeValue { return lambdaevents.NewNumberAttribute(v) }
func BoolValue(v bool) AttributeValue     { return lambdaevents.NewBooleanAttribute(v) }
func NullValue() AttributeValue           { return lambdaevents.NewNullAttribute() }

func kindName(v AttributeValue) string {
	switch v.DataType() {
	case lambdaevents.DataTypeString:
		return "S"
	case lambdaevents.DataTypeNumber:
		return "N"
	case lambdaevents.DataTypeBoolean:
		return "BOOL"
	case lambdaevents.DataTypeNull:
		return "NULL"
	case lambdaevents.DataTypeMap:
		return "M"
	case lambdaevents.DataTypeList:
		return "L"
	case lambdaevents.DataTypeStringSet:
		return "SS"
	case lambdaevents.DataTypeNumberSet:
		return "NS"
	case lambdaevents.DataTypeBinarySet:
		return "BS"
	default:
		return "B"
	}
}

// Attributes maps attribute names to typed values. A nil map is valid and empty.
//
// Every accessor reports ok=false, without error, when the attribute is missing or NULL:
// absence is expected, e.g. a REMOVE image rarely carries every field the INSERT had.
type Attributes map[string]AttributeValue

func (a Attributes) lookup(name string) (AttributeValue, bool) {
	v, ok := a[name]
	// The zero value carries no type; decoding never produces it.
	if !ok || v == (AttributeValue{}) || v.IsNull() {
		return AttributeValue{}, false
	}
	return v, true
}

// String returns S values, and N values in their textual form.
func (a Attributes) String(name string) (string, bool) {
	v, ok := a.lookup(name)
	if !ok {
		return "", false
	}
	switch v.DataType() {
	case lambdaevents.DataTypeString:
		return v.String(), true
	case lambdaevents.DataTypeNumber:
		return v.Number(), true
	default:
		return "", false
	}
}

// Bool reads BOOL values. Older rows stored flags as N 0/1 or S "true"/"false"; both are accepted.
func (a Attributes) Bool(name string) (bool, bool, error) {
	v, ok := a.lookup(name)
	if !ok {
		return false, false, nil
	}
	switch v.DataType() {
	case lambdaevents.DataTypeBoolean:
		return v.Boolean(), true, nil
	case lambdaevents.DataTypeNumber:
		switch strings.TrimSpace(v.Number()) {
		case "1":
			return true, true, nil
		case "0":
			return false, true, nil
		}
		return false, true, fmt.Errorf("%w: %s=%q is not a boolean number", ErrCoercion, name, v.Number())
	case lambdaevents.DataTypeString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.String()))
		if err != nil {
			return false, true, fmt.Errorf("%w: %s=%q is not a boolean", ErrCoercion, name, v.String())
		}
		return b, true, nil
	default:
		return false, true, fmt.Errorf("%w: %s has type %s, want BOOL", ErrCoercion, name, kindName(v))
	}
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds (2001-09-09 in ms).
const epochMillisThreshold = 1_000_000_000_000

// Time reads S values as RFC3339 and N values as epoch seconds or milliseconds. Results are UTC.
func (a Attributes) Time(name string) (time.Time, bool, error) {
	v, ok := a.lookup(name)
	if !ok {
		return time.Time{}, false, nil
	}
	switch v.DataType() {
	case lambdaevents.DataTypeString:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v.String()))
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%w: %s=%q is not RFC3339", ErrCoercion, name, v.String())
		}
		return t.UTC(), true, nil
	case lambdaevents.DataTypeNumber:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Number()), 10, 64)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%w: %s=%q is not an epoch timestamp", ErrCoercion, name, v.Number())
		}
		if n >= epochMillisThreshold {
			return time.UnixMilli(n).UTC(), true, nil
		}
		return time.Unix(n, 0).UTC(), true, nil
	default:
		return time.Time{}, true, fmt.Errorf("%w: %s has type %s, want S or N", ErrCoercion, name, kindName(v))
	}
}
