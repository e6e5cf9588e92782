// Package bolt implements the input and output conventions of Bolt tasks:
// parameters arrive as JSON on stdin (or as PT_* environment variables), and
// the result is a single JSON object on stdout. Failures are reported as an
// "_error" object and a non-zero exit status.
package bolt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/mattn/go-isatty"
)

// ExitFailure is the exit status after an error has been reported.
const ExitFailure = 1

// ErrorBody is the payload of an "_error" object.
type ErrorBody struct {
	Kind    string         `json:"kind"`
	Msg     string         `json:"msg"`
	Details map[string]any `json:"details"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"_error"`
}

// ReadParams reads task parameters from stdin unless it is a terminal.
func ReadParams(stdin *os.File, getenv func(string) string) (models.TaskParams, error) {
	var r io.Reader = bytes.NewReader(nil)
	if stdin != nil && !isatty.IsTerminal(stdin.Fd()) && !isatty.IsCygwinTerminal(stdin.Fd()) {
		r = stdin
	}
	return DecodeParams(r, getenv)
}

// DecodeParams decodes JSON parameters from r. Empty input means no
// parameters. PT__noop in the environment also enables noop mode.
func DecodeParams(r io.Reader, getenv func(string) string) (models.TaskParams, error) {
	params := models.TaskParams{}

	data, err := io.ReadAll(r)
	if err != nil {
		return params, fmt.Errorf("unable to read task parameters: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			return params, fmt.Errorf("unable to parse task parameters: %w", err)
		}
	}

	if getenv != nil {
		if v := getenv("PT__noop"); v != "" {
			noop, err := strconv.ParseBool(v)
			if err != nil {
				return params, fmt.Errorf("invalid PT__noop value %q: %w", v, err)
			}
			params.Noop = params.Noop || noop
		}
	}
	return params, nil
}

// WriteResult writes the task result.
func WriteResult(w io.Writer, result *models.TaskResult) error {
	return json.NewEncoder(w).Encode(result)
}

// NewErrorBody describes err. Classified errors keep their kind and details,
// anything else is reported with the unknown kind.
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{
		Kind:    models.KindUnknown.String(),
		Msg:     models.ErrorMessage(err),
		Details: map[string]any{},
	}

	var te *models.TaskError
	if errors.As(err, &te) {
		body.Kind = te.Kind.String()
		for k, v := range te.Details {
			body.Details[k] = v
		}
		if te.Err != nil {
			body.Details["error"] = te.Err.Error()
		}
	}
	return body
}

// WriteError writes err as an "_error" object.
func WriteError(w io.Writer, err error) error {
	return json.NewEncoder(w).Encode(errorEnvelope{Error: NewErrorBody(err)})
}
