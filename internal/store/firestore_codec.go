package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kmc-indicators/internal/models"
)

// Documents travel in the Firestore REST encoding: every field is an object
// with exactly one "<kind>Value" member.

type wireValue struct {
	StringValue    *string         `json:"stringValue,omitempty"`
	IntegerValue   *string         `json:"integerValue,omitempty"`
	DoubleValue    *float64        `json:"doubleValue,omitempty"`
	BooleanValue   *bool           `json:"booleanValue,omitempty"`
	TimestampValue *string         `json:"timestampValue,omitempty"`
	ReferenceValue *string         `json:"referenceValue,omitempty"`
	ArrayValue     *wireArray      `json:"arrayValue,omitempty"`
	NullValue      json.RawMessage `json:"nullValue,omitempty"`
	MapValue       json.RawMessage `json:"mapValue,omitempty"`
}

type wireArray struct {
	Values []wireValue `json:"values,omitempty"`
}

type wireDocument struct {
	Name       string               `json:"name"`
	Fields     map[string]wireValue `json:"fields"`
	CreateTime string               `json:"createTime,omitempty"`
	UpdateTime string               `json:"updateTime,omitempty"`
}

// VersionField is the document field carrying the upstream version counter.
const VersionField = "version"

// DecodeDocument parses one document in the Firestore REST encoding.
func DecodeDocument(data []byte) (*models.Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return fromWire(w)
}

func fromWire(w wireDocument) (*models.Document, error) {
	ref, ok := models.ParseRef(w.Name)
	if !ok {
		return nil, fmt.Errorf("malformed document name %q", w.Name)
	}
	fields, err := decodeFields(w.Fields)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", ref, err)
	}
	d := &models.Document{Collection: ref.Collection, ID: ref.ID, Fields: fields}
	d.Version = documentVersion(d, w.UpdateTime)
	return d, nil
}

// documentVersion prefers the explicit version field and falls back to the
// update time in microseconds, which also increases on every write.
func documentVersion(d *models.Document, updateTime string) int64 {
	if v, ok := d.Num(VersionField); ok {
		return int64(v)
	}
	if t, err := time.Parse(time.RFC3339Nano, updateTime); err == nil {
		return t.UnixMicro()
	}
	return 0
}

func decodeFields(in map[string]wireValue) (map[string]models.Value, error) {
	out := make(map[string]models.Value, len(in))
	for name, wv := range in {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func decodeValue(w wireValue) (models.Value, error) {
	switch {
	case w.StringValue != nil:
		return models.String(*w.StringValue), nil
	case w.IntegerValue != nil:
		n, err := strconv.ParseInt(*w.IntegerValue, 10, 64)
		if err != nil {
			return models.Value{}, fmt.Errorf("bad integerValue %q: %w", *w.IntegerValue, err)
		}
		return models.Number(float64(n)), nil
	case w.DoubleValue != nil:
		return models.Number(*w.DoubleValue), nil
	case w.BooleanValue != nil:
		return models.Bool(*w.BooleanValue), nil
	case w.TimestampValue != nil:
		t, err := time.Parse(time.RFC3339Nano, *w.TimestampValue)
		if err != nil {
			return models.Value{}, fmt.Errorf("bad timestampValue %q: %w", *w.TimestampValue, err)
		}
		return models.Timestamp(t), nil
	case w.ReferenceValue != nil:
		r, ok := models.ParseRef(*w.ReferenceValue)
		if !ok {
			return models.Value{}, fmt.Errorf("bad referenceValue %q", *w.ReferenceValue)
		}
		return models.Value{Kind: models.KindRef, Ref: r}, nil
	case w.ArrayValue != nil:
		vs := make([]models.Value, 0, len(w.ArrayValue.Values))
		for _, item := range w.ArrayValue.Values {
			v, err := decodeValue(item)
			if err != nil {
				return models.Value{}, err
			}
			if v.Kind == models.KindArray {
				return models.Value{}, fmt.Errorf("nested arrays are not supported")
			}
			vs = append(vs, v)
		}
		return models.Array(vs...), nil
	}
	// null and nested maps carry nothing the engine reads
	return models.Value{Kind: models.KindNull}, nil
}

// EncodeDocument renders d in the Firestore REST encoding under the given
// document-path prefix (for example "projects/p/databases/(default)/documents").
func EncodeDocument(d *models.Document, prefix string) ([]byte, error) {
	return json.Marshal(toWire(d, prefix))
}

// EncodeFields renders only the field map, as stored in the Postgres body column.
func EncodeFields(d *models.Document) ([]byte, error) {
	return json.Marshal(encodeFields(d.Fields, ""))
}

func toWire(d *models.Document, prefix string) wireDocument {
	return wireDocument{
		Name:   joinPath(prefix, d.Collection, d.ID),
		Fields: encodeFields(d.Fields, prefix),
	}
}

func encodeFields(in map[string]models.Value, prefix string) map[string]wireValue {
	out := make(map[string]wireValue, len(in))
	for name, v := range in {
		out[name] = encodeValue(v, prefix)
	}
	return out
}

func encodeValue(v models.Value, prefix string) wireValue {
	switch v.Kind {
	case models.KindString:
		s := v.Str
		return wireValue{StringValue: &s}
	case models.KindNumber:
		if v.Num == float64(int64(v.Num)) {
			s := strconv.FormatInt(int64(v.Num), 10)
			return wireValue{IntegerValue: &s}
		}
		n := v.Num
		return wireValue{DoubleValue: &n}
	case models.KindBool:
		b := v.Bool
		return wireValue{BooleanValue: &b}
	case models.KindTime:
		s := v.Time.UTC().Format(time.RFC3339Nano)
		return wireValue{TimestampValue: &s}
	case models.KindRef:
		s := joinPath(prefix, v.Ref.Collection, v.Ref.ID)
		return wireValue{ReferenceValue: &s}
	case models.KindArray:
		arr := &wireArray{Values: make([]wireValue, 0, len(v.Arr))}
		for _, item := range v.Arr {
			arr.Values = append(arr.Values, encodeValue(item, prefix))
		}
		return wireValue{ArrayValue: arr}
	}
	return wireValue{NullValue: json.RawMessage("null")}
}

func joinPath(prefix, collection, id string) string {
	if prefix == "" {
		return collection + "/" + id
	}
	return strings.TrimSuffix(prefix, "/") + "/" + collection + "/" + id
}
