package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"

	"capajail/internal/codejail/canon"
	"capajail/internal/codejail/spec"
)

// PayloadField is the multipart field carrying the JSON request.
const PayloadField = "payload"

// Payload is the JSON body of a code-exec request.
type Payload struct {
	Code                  string         `json:"code"`
	GlobalsDict           map[string]any `json:"globals_dict"`
	PythonPath            []string       `json:"python_path"`
	LimitOverridesContext *string        `json:"limit_overrides_context"`
	Slug                  *string        `json:"slug"`
	Unsafely              bool           `json:"unsafely"`
}

// Response is the JSON body returned by the service.
type Response struct {
	Emsg        *string        `json:"emsg"`
	GlobalsDict map[string]any `json:"globals_dict"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewPayload builds the wire payload for req.
func NewPayload(req spec.Request, globals map[string]any) Payload {
	pythonPath := req.PythonPath
	if pythonPath == nil {
		pythonPath = []string{}
	}
	return Payload{
		Code:                  req.Code,
		GlobalsDict:           canon.JSONSafe(globals),
		PythonPath:            pythonPath,
		LimitOverridesContext: optional(req.LimitOverridesContext),
		Slug:                  optional(req.Slug),
		Unsafely:              req.Unsafely,
	}
}

// EncodeMultipart writes the payload field plus one part per extra file.
func EncodeMultipart(payload Payload, files []spec.ExtraFile) (body []byte, contentType string, err error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(PayloadField, string(raw)); err != nil {
		return nil, "", err
	}
	for _, f := range files {
		if err := f.Validate(); err != nil {
			return nil, "", err
		}
		part, err := mw.CreateFormFile(f.Name, f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// DecodeResponse validates and parses a service response.
func DecodeResponse(data []byte) (Response, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Response{}, fmt.Errorf("response is not a JSON object: %w", err)
	}
	var resp Response
	if msg, ok := raw["emsg"]; ok {
		if err := json.Unmarshal(msg, &resp.Emsg); err != nil {
			return Response{}, fmt.Errorf("emsg must be a string or null: %w", err)
		}
	}
	g, ok := raw["globals_dict"]
	if !ok || bytes.Equal(bytes.TrimSpace(g), []byte("null")) {
		return Response{}, fmt.Errorf("globals_dict is missing")
	}
	globals, err := canon.Decode(g)
	if err != nil {
		return Response{}, fmt.Errorf("globals_dict must be an object")
	}
	resp.GlobalsDict = globals
	return resp, nil
}

// DecodePayload parses the payload field of a code-exec request.
func DecodePayload(data []byte) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	var p Payload
	code, ok := raw["code"]
	if !ok {
		return Payload{}, fmt.Errorf("code is required")
	}
	if err := json.Unmarshal(code, &p.Code); err != nil {
		return Payload{}, fmt.Errorf("code must be a string: %w", err)
	}
	p.GlobalsDict = map[string]any{}
	if g, ok := raw["globals_dict"]; ok {
		globals, err := canon.Decode(g)
		if err != nil {
			return Payload{}, fmt.Errorf("globals_dict must be an object")
		}
		p.GlobalsDict = globals
	}
	fields := []struct {
		name string
		dst  any
	}{
		{"python_path", &p.PythonPath},
		{"limit_overrides_context", &p.LimitOverridesContext},
		{"slug", &p.Slug},
		{"unsafely", &p.Unsafely},
	}
	for _, f := range fields {
		v, ok := raw[f.name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return Payload{}, fmt.Errorf("%s has the wrong type: %w", f.name, err)
		}
	}
	return p, nil
}
