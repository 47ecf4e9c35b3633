package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"plotbot-go/pkg/errors"
)

// Job is an ordered list of features.
type Job struct {
	Name     string    `json:"name,omitempty"`
	Features []Feature `json:"-"`
}

type envelope struct {
	Kind Kind `json:"kind"`
}

// Decode parses one feature object of the form {"kind": "...", ...} and
// validates it.
func Decode(raw json.RawMessage) (Feature, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidFeature, "malformed feature")
	}

	var f Feature
	var err error
	switch env.Kind {
	case KindLine:
		var v Line
		err = strictUnmarshal(raw, &v)
		f = v
	case KindStroke:
		var v Stroke
		err = strictUnmarshal(raw, &v)
		f = v
	case KindCircle:
		var v Circle
		err = strictUnmarshal(raw, &v)
		f = v
	case KindDots:
		var v Dots
		err = strictUnmarshal(raw, &v)
		f = v
	case KindGenerative:
		var v Generative
		err = strictUnmarshal(raw, &v)
		f = v
	case "":
		return nil, errors.InvalidFeatureError("", "missing kind")
	default:
		return nil, errors.InvalidFeatureError(string(env.Kind), "unknown kind")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidFeature, fmt.Sprintf("malformed %s", env.Kind))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// strictUnmarshal rejects fields the feature does not have, apart from kind.
func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	delete(fields, "kind")
	rest, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(rest))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Encode renders f as a feature object with its kind.
func Encode(f Feature) (json.RawMessage, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(f.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON accepts either {"name": ..., "features": [...]} or a bare
// array of features.
func (j *Job) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return errors.Wrap(err, errors.ErrInvalidFeature, "malformed job")
		}
	} else {
		var doc struct {
			Name     string            `json:"name"`
			Features []json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return errors.Wrap(err, errors.ErrInvalidFeature, "malformed job")
		}
		j.Name = doc.Name
		raws = doc.Features
	}

	j.Features = make([]Feature, 0, len(raws))
	for i, raw := range raws {
		f, err := Decode(raw)
		if err != nil {
			if he, ok := err.(*errors.HostError); ok {
				he.SetContext("index", i)
			}
			return err
		}
		j.Features = append(j.Features, f)
	}
	return nil
}

// MarshalJSON writes the object form.
func (j Job) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(j.Features))
	for _, f := range j.Features {
		raw, err := Encode(f)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(struct {
		Name     string            `json:"name,omitempty"`
		Features []json.RawMessage `json:"features"`
	}{j.Name, raws})
}

// ParseJob decodes a job document.
func ParseJob(data []byte) (*Job, error) {
	var j Job
	if err := j.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &j, nil
}

// LoadJob reads a job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidFeature, "read job file").SetContext("path", path)
	}
	return ParseJob(data)
}
