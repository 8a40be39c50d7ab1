package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

// Batch bodies are only checked for shape here; field rules belong to the batch service so
// that invalid values come back as invalid_argument with the operation's own message.
const objectSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object"
}`

const forecastSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["historicalData"],
	"properties": {
		"historicalData": {
			"type": "array",
			"items": {
				"type": "array",
				"minItems": 2,
				"maxItems": 2,
				"items": {"type": "number"}
			}
		}
	}
}`

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := "mem://coffeechain/" + name
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("httpapi: schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile schema %s: %w", name, err)
	}
	return compiled, nil
}

// decodeObject reads a JSON object body and returns its members as raw JSON. An empty body
// reads as {}.
func (s *Server) decodeObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if !s.decode(w, r, s.objectSchema, &fields) {
		return nil, false
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, true
}

// decode validates the body against schema and unmarshals it into dst. It writes the error
// response itself and reports whether the handler may go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, kindInvalidRequest, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, kindInvalidRequest, "unable to read request body")
		return false
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeError(w, r, http.StatusBadRequest, kindInvalidRequest, "request body is not valid JSON")
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		writeError(w, r, http.StatusBadRequest, kindInvalidRequest, "request body is not valid JSON")
		return false
	}
	if err := schema.Validate(doc); err != nil {
		writeError(w, r, http.StatusBadRequest, kindInvalidRequest, schemaMessage(err))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, kindInvalidRequest, "request body does not match the expected shape")
		return false
	}
	return true
}

// schemaMessage flattens a validation error to its most specific cause.
func schemaMessage(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	loc := verr.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("request body %s: %s", loc, verr.Message)
}
