package importchain

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/martijn/vmvault/internal/vault"
)

// readRecord reads a single JSON object.
func readRecord(ctx context.Context, t vault.Target, key string) (Record, error) {
	data, err := t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	return rec, nil
}

// readRecords reads a JSON list of objects. A single object is accepted as a
// list of one.
func readRecords(ctx context.Context, t vault.Target, key string) ([]Record, error) {
	data, err := t.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err == nil {
		return recs, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", key)
	}
	return []Record{rec}, nil
}

func stringField(rec Record, field string) string {
	s, _ := rec[field].(string)
	return s
}

// decode fills out from rec through the json tags of the domain types.
func decode(rec Record, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(rec))
}

var timeType = reflect.TypeOf(time.Time{})

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02T15:04:05.999999"}

// stringToTimeHook parses timestamps in the layouts the vault has used over time.
func stringToTimeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != timeType {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return nil, lastErr
}
