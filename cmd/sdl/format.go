package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sdlhq/sdl"
)

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid format %q (want json or text)", format)
	}
}

// output prints a result to stdout. Text format falls back to indented
// JSON for structured payloads — every response here is structured.
func output(v any) error {
	enc := json.NewEncoder(os.Stdout)
	if flagFormat == "text" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// wireError is the stable structured error shape of the tool surface.
type wireError struct {
	Error struct {
		Message               string   `json:"message"`
		Code                  string   `json:"code"`
		NextBestAction        string   `json:"nextBestAction,omitempty"`
		RequiredFieldsForNext []string `json:"requiredFieldsForNext,omitempty"`
	} `json:"error"`
}

// outputError prints the structured error envelope and returns err so
// cobra still exits non-zero.
func outputError(err error) error {
	var we wireError
	we.Error.Message = err.Error()
	we.Error.Code = errorCode(err)

	var pe *sdl.PolicyError
	if errors.As(err, &pe) {
		we.Error.NextBestAction = pe.NextBestAction
		we.Error.RequiredFieldsForNext = pe.RequiredFieldsForNext
	}

	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	enc.Encode(we)
	errorHandled = true
	return err
}

func errorCode(err error) string {
	var (
		ce *sdl.ConfigError
		se *sdl.StorageError
		ve *sdl.ValidationError
		pe *sdl.PolicyError
		ne *sdl.NotFoundError
	)
	switch {
	case errors.As(err, &pe):
		return "policy-deny"
	case errors.As(err, &ne):
		return ne.Kind + "-not-found"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &se):
		return "storage"
	default:
		return "internal"
	}
}
