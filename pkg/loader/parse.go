package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/except-pass/telltale/pkg/logger"
	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"
)

// ParseDocument decodes a graph document. Malformed JSON (trailing commas,
// single quotes, unquoted keys) is repaired before giving up.
func ParseDocument(data []byte, format DocumentFormat) (*GraphDocument, error) {
	var doc GraphDocument
	if err := decode(data, format, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseExpectations decodes a standalone expectation document. A bare list
// of expectations is accepted as well.
func ParseExpectations(data []byte, format DocumentFormat) (*ExpectationsDocument, error) {
	var doc ExpectationsDocument
	trimmed := bytes.TrimSpace(data)
	if format != FormatYAML && len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decode(trimmed, format, &doc.Expectations); err != nil {
			return nil, fmt.Errorf("failed to parse expectations: %w", err)
		}
	} else if err := decode(data, format, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse expectations: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func decode(data []byte, format DocumentFormat, out any) error {
	if format == FormatYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(out)
	}

	err := strictJSON(data, out)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) || strings.HasPrefix(err.Error(), "json: unknown field") {
		return err
	}

	repaired, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return fmt.Errorf("%w (repair failed: %v)", err, rerr)
	}
	if err := strictJSON([]byte(repaired), out); err != nil {
		return err
	}
	logger.Warn("[Loader] Parsed document after repairing malformed JSON", "err", err)
	return nil
}

func strictJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
